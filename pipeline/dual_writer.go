package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-ranks/models"
)

// DualWriter fans every batch out to a CSV and a JSONL file.
type DualWriter struct {
	sinks []namedWriter
}

type namedWriter struct {
	name string
	OutputWriter
}

// NewDualWriter opens both files. If the second cannot be created the first
// is closed again.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create json writer: %w", err), csvWriter.Close())
	}

	return &DualWriter{sinks: []namedWriter{
		{name: "csv", OutputWriter: csvWriter},
		{name: "json", OutputWriter: jsonWriter},
	}}, nil
}

// Write stops at the first sink that fails, so a batch is never in the JSON
// file without also being in the CSV file.
func (dw *DualWriter) Write(listings []*models.Listing) error {
	for _, s := range dw.sinks {
		if err := s.Write(listings); err != nil {
			return fmt.Errorf("%s write: %w", s.name, err)
		}
	}
	return nil
}

// Close closes every sink, even after a failure.
func (dw *DualWriter) Close() error {
	var errs []error
	for _, s := range dw.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks every sink.
func (dw *DualWriter) Validate() error {
	var errs []error
	for _, s := range dw.sinks {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

package pipeline

import (
	"fmt"
	"path/filepath"
)

// Result is the outcome of converting one file. A failed result carries
// Detail and no data.
type Result struct {
	OriginalName string `json:"original_name"`
	OutputName   string `json:"output_name,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	Data         []byte `json:"-"`
	Failed       bool   `json:"failed,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// Success builds a successful result.
func Success(originalName, outputName, contentType string, data []byte) Result {
	return Result{
		OriginalName: originalName,
		OutputName:   outputName,
		ContentType:  contentType,
		Data:         data,
	}
}

// Failure builds a failed result.
func Failure(originalName, detail string) Result {
	return Result{OriginalName: originalName, Failed: true, Detail: detail}
}

// ResultSet holds the outcomes of one batch in submission order.
type ResultSet []Result

// Successes returns only the successful results, order preserved.
func (rs ResultSet) Successes() ResultSet {
	out := make(ResultSet, 0, len(rs))
	for _, r := range rs {
		if !r.Failed {
			out = append(out, r)
		}
	}
	return out
}

// ConversionFailedError aborts a batch: the service rejected Name.
type ConversionFailedError struct {
	Name   string
	Detail string
}

func (e *ConversionFailedError) Error() string {
	return fmt.Sprintf("Error converting %s: %s", e.Name, e.Detail)
}

// Result returns the failure as a Result value.
func (e *ConversionFailedError) Result() Result { return Failure(e.Name, e.Detail) }

// ReplaceExtension swaps the extension of name for ext (given without dot).
// A name without an extension gets ext appended.
func ReplaceExtension(name, ext string) string {
	old := filepath.Ext(name)
	return name[:len(name)-len(old)] + "." + ext
}

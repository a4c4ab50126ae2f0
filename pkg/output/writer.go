package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records.
//
// Implementations must be safe for concurrent use. Each Write* method
// emits one complete record as a single line.
type Writer interface {
	WriteRun(ctx context.Context, run *RunRecord) error
	WriteTrigger(ctx context.Context, rec *TriggerRecord) error
	WriteReconcile(ctx context.Context, rec *ReconcileRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close marks the writer closed. The underlying writer is not closed.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w            io.Writer
	invocationID string
	now          func() time.Time
	mu           sync.Mutex

	closed bool
}

// NewJSONLWriter creates a writer tagging every record with invocationID.
func NewJSONLWriter(w io.Writer, invocationID string) *JSONLWriter {
	return &JSONLWriter{
		w:            w,
		invocationID: invocationID,
		now:          time.Now,
	}
}

func (jw *JSONLWriter) WriteRun(ctx context.Context, run *RunRecord) error {
	return jw.writeRecord(ctx, TypeRun, run)
}

func (jw *JSONLWriter) WriteTrigger(ctx context.Context, rec *TriggerRecord) error {
	return jw.writeRecord(ctx, TypeTrigger, rec)
}

func (jw *JSONLWriter) WriteReconcile(ctx context.Context, rec *ReconcileRecord) error {
	return jw.writeRecord(ctx, TypeReconcile, rec)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	if sum != nil && sum.DurationHuman == "" {
		sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	}
	return jw.writeRecord(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes one record line while holding the
// mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:         recordType,
		TS:           jw.now().UTC(),
		InvocationID: jw.invocationID,
		Data:         dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)

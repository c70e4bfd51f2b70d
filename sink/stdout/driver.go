// Package stdout writes one structured log line per inference request.
package stdout

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"tabserve/sink"
)

type Config struct {
	Output       io.Writer // defaults to os.Stdout
	PrintCounter bool      // add a seq attribute
}

type driver struct {
	cfg Config
	log *slog.Logger
	seq atomic.Uint64
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	d.cfg = c
	d.log = slog.New(slog.NewJSONHandler(c.Output, nil))
	return nil
}

func (d *driver) Push(r *sink.Record) error {
	if d.log == nil {
		return fmt.Errorf("stdout-sink: not configured")
	}
	attrs := []any{
		"model", r.Model,
		"version", r.Version,
		"request_id", r.RequestID,
		"rows", r.Rows,
		"status", r.Status,
		"duration", r.Duration,
	}
	if r.Error != "" {
		attrs = append(attrs, "error", r.Error)
	}
	if r.Outputs != nil {
		attrs = append(attrs, "outputs", r.Outputs.Names())
	}
	if d.cfg.PrintCounter {
		attrs = append(attrs, "seq", d.seq.Add(1))
	}
	d.log.Info("inference", attrs...)
	return nil
}

func (d *driver) Close() error { return nil }

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"

	"github.com/creachadair/streamer/mux"
	"github.com/creachadair/streamer/source"
)

// A line is the carrier for one input record.
type line struct{ text string }

func newLine() *line { return new(line) }

func decodeLine(data []byte, rec *line) error { rec.text = string(data); return nil }

// feed copies the lines of the named file into q, and closes q at the end.
func feed(ctx context.Context, path string, q *mux.Queue[*line]) {
	f, err := os.Open(path)
	if err != nil {
		q.Fail(err)
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(nil, 1<<20)
	for sc.Scan() {
		if err := q.PutContext(ctx, []byte(sc.Text())); errors.Is(err, mux.ErrQueueClosed) {
			return
		} else if err != nil {
			q.Fail(err)
			return
		}
	}
	if err := sc.Err(); err != nil {
		q.Fail(err)
		return
	}
	q.Close()
}

func channels(qs []*mux.Queue[*line]) []mux.Channel[*line] {
	out := make([]mux.Channel[*line], len(qs))
	for i, q := range qs {
		out[i] = q
	}
	return out
}

// lineSource presents the text of the lines in a stream as strings.
type lineSource struct{ s *mux.Stream[*line] }

func lines(s *mux.Stream[*line]) source.Source[any] { return lineSource{s} }

func (ls lineSource) HasNext(ctx context.Context) (bool, error) { return ls.s.HasNext(ctx) }

func (ls lineSource) Next(ctx context.Context) (any, error) {
	rec, err := ls.s.Next(ctx)
	if err != nil {
		return nil, err
	}
	return rec.text, nil
}

// loadVariables reads broadcast variables from files, one value per line.
func loadVariables(files map[string]string) (map[string][]any, error) {
	vars := make(map[string][]any, len(files))
	for name, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var vs []any
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			vs = append(vs, sc.Text())
		}
		vars[name] = vs
	}
	return vars, nil
}

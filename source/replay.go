package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"simlink/logging"
	"simlink/telemetry"
)

// ReplayOptions configures the CSV replay source.
type ReplayOptions struct {
	Path     string
	Rate     int              // Rows per second, default 60
	Loop     bool             // Restart from the first row at the end
	TickName string           // Field synthesized from the row counter when absent, default SessionTick
	Now      func() time.Time // Clock, default time.Now
}

// Replay plays back a recorded session from a CSV file. The header row
// names the fields; columns named "Name[i]" are assembled into the array
// field "Name". Rows are paced against the wall clock at Rate.
type Replay struct {
	opts ReplayOptions

	reg     *telemetry.Registry
	rows    []*telemetry.Frame
	current *telemetry.Frame
	start   time.Time

	// ended is set when a non-looping replay ran past its last row. The last
	// row is held so the provider sees freshness stall and goes idle.
	ended bool

	mu        sync.RWMutex
	connected bool
}

// NewReplay creates a replay source. The file is read on Connect.
func NewReplay(opts ReplayOptions) *Replay {
	if opts.Rate <= 0 {
		opts.Rate = 60
	}
	if opts.TickName == "" {
		opts.TickName = "SessionTick"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Replay{opts: opts}
}

// Name returns the source name.
func (r *Replay) Name() string { return "replay" }

// IsConnected reports whether the file has been loaded.
func (r *Replay) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Connect loads the file and starts playback from the first row.
func (r *Replay) Connect() error {
	if r.IsConnected() {
		return nil
	}

	f, err := os.Open(r.opts.Path)
	if err != nil {
		return Unavailable(r.Name(), err)
	}
	defer f.Close()

	reg, rows, err := LoadReplay(f, r.opts.TickName)
	if err != nil {
		return Unavailable(r.Name(), fmt.Errorf("%s: %w", r.opts.Path, err))
	}
	if len(rows) == 0 {
		return Unavailable(r.Name(), fmt.Errorf("%s: no data rows", r.opts.Path))
	}

	r.reg = reg
	r.rows = rows
	r.current = nil
	r.ended = false
	r.start = r.opts.Now()

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	logging.DebugLog("replay", "loaded %d rows, %d fields from %s", len(rows), reg.Len(), r.opts.Path)
	return nil
}

// Disconnect drops the loaded rows.
func (r *Replay) Disconnect() error {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	r.rows = nil
	r.current = nil
	return nil
}

// Fields returns the layout read from the header.
func (r *Replay) Fields() []telemetry.FieldDesc { return r.reg.Fields() }

// Rows returns the number of data rows loaded.
func (r *Replay) Rows() int { return len(r.rows) }

// Ended reports whether a non-looping replay reached its last row.
func (r *Replay) Ended() bool { return r.ended }

// HasField reports whether the header named the field.
func (r *Replay) HasField(name string) bool {
	_, ok := r.reg.Lookup(name)
	return ok
}

// Field returns the value in the current row.
func (r *Replay) Field(name string) (telemetry.Value, error) {
	if r.current == nil {
		if _, ok := r.reg.Lookup(name); !ok {
			return telemetry.Value{}, fmt.Errorf("%w: %s", ErrFieldNotFound, name)
		}
		return telemetry.Value{}, nil
	}
	return r.current.Field(name)
}

// Poll selects the row for the current wall-clock time.
func (r *Replay) Poll() error {
	if !r.IsConnected() || len(r.rows) == 0 {
		return Unavailable(r.Name(), nil)
	}
	idx := int(r.opts.Now().Sub(r.start).Seconds() * float64(r.opts.Rate))
	if idx >= len(r.rows) {
		if r.opts.Loop {
			idx %= len(r.rows)
		} else {
			if !r.ended {
				logging.DebugLog("replay", "end of file after %d rows", len(r.rows))
			}
			r.ended = true
			idx = len(r.rows) - 1
		}
	}
	r.current = r.rows[idx]
	return nil
}

// LoadReplay parses a replay CSV. When the file has no tickName column one
// is synthesized from the row number.
func LoadReplay(in io.Reader, tickName string) (*telemetry.Registry, []*telemetry.Frame, error) {
	reader := csv.NewReader(in)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	type column struct {
		field int // index into descs
		elem  int // array element, -1 for scalars
	}

	var descs []telemetry.FieldDesc
	byName := make(map[string]int)
	cols := make([]column, len(headers))

	for i, h := range headers {
		h = strings.TrimSpace(h)
		base, idx, hasIdx := telemetry.ParseFieldName(h)
		if strings.HasSuffix(h, "]") && hasIdx {
			// Multi-digit indexes are legal in a header even though
			// names only address the first ten elements.
			if n, err := strconv.Atoi(h[len(base)+1 : len(h)-1]); err == nil {
				idx = n
			}
		} else {
			base, hasIdx = h, false
		}
		if base == "" {
			return nil, nil, fmt.Errorf("column %d: empty name", i+1)
		}

		d, exists := byName[base]
		if !exists {
			d = len(descs)
			byName[base] = d
			kind := telemetry.KindFloat
			if hasIdx {
				kind = telemetry.KindFloatArray
			}
			descs = append(descs, telemetry.FieldDesc{Name: base, Kind: kind})
		}
		if hasIdx {
			if descs[d].Kind != telemetry.KindFloatArray {
				return nil, nil, fmt.Errorf("column %q: %s is both scalar and array", h, base)
			}
			if idx+1 > descs[d].Count {
				descs[d].Count = idx + 1
			}
			cols[i] = column{field: d, elem: idx}
		} else {
			cols[i] = column{field: d, elem: -1}
		}
	}

	synthTick := false
	if _, ok := byName[tickName]; !ok && tickName != "" {
		synthTick = true
		byName[tickName] = len(descs)
		descs = append(descs, telemetry.FieldDesc{Name: tickName, Kind: telemetry.KindInt})
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}

	// Settle scalar kinds from the first row: true/false columns are bools.
	if len(records) > 0 {
		for i, raw := range records[0] {
			if i >= len(cols) || cols[i].elem >= 0 {
				continue
			}
			if isBoolLiteral(raw) {
				descs[cols[i].field].Kind = telemetry.KindBool
			}
		}
	}

	reg := telemetry.NewRegistry(descs...)
	frames := make([]*telemetry.Frame, 0, len(records))

	for n, rec := range records {
		frame := reg.NewFrame()
		arrays := make(map[int][]float32)
		for i, raw := range rec {
			if i >= len(cols) {
				break
			}
			c := cols[i]
			d := descs[c.field]
			if c.elem >= 0 {
				arr, ok := arrays[c.field]
				if !ok {
					arr = make([]float32, d.Count)
					arrays[c.field] = arr
				}
				arr[c.elem] = float32(parseOrZero(raw))
				continue
			}
			if d.Kind == telemetry.KindBool {
				b, _ := strconv.ParseBool(strings.TrimSpace(raw))
				frame.SetAt(c.field, telemetry.Bool(b))
				continue
			}
			if strings.TrimSpace(raw) == "" {
				continue
			}
			frame.SetAt(c.field, telemetry.Float(parseOrZero(raw)))
		}
		for field, arr := range arrays {
			frame.SetAt(field, telemetry.FloatArray(arr))
		}
		if synthTick {
			frame.Set(tickName, telemetry.Int(int64(n)))
		}
		frames = append(frames, frame)
	}

	return reg, frames, nil
}

func isBoolLiteral(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "false":
		return true
	}
	return false
}

func parseOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

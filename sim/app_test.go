package sim

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/niess/mulder/fluxmeter"
	"github.com/niess/mulder/geometry"
	"github.com/niess/mulder/internal/coords"
	"github.com/niess/mulder/reference"
)

func decodeRecord(b []byte) (id int, value, asymmetry, weight float64) {
	id = int(binary.LittleEndian.Uint64(b[0:8]))
	value = math.Float64frombits(binary.LittleEndian.Uint64(b[8:16]))
	asymmetry = math.Float64frombits(binary.LittleEndian.Uint64(b[16:24]))
	weight = math.Float64frombits(binary.LittleEndian.Uint64(b[24:32]))
	return
}

func TestPoolRunStreamsAllJobs(t *testing.T) {
	g := geometry.New(nil)
	fm := fluxmeter.New(g, reference.NewDefault(), fluxmeter.CSDA, nil)

	jobs := make([]Job, 5)
	for i := range jobs {
		jobs[i] = Job{
			ID: i,
			Obs: fluxmeter.Observer{
				Geodetic:  coords.Geodetic{Latitude: 0, Longitude: 0, Height: 0},
				Elevation: 90,
				Kinetic:   float64(i + 1),
			},
		}
	}

	var buf bytes.Buffer
	pool := NewPool(fm, 3)
	if err := pool.Run(jobs, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}

	const recordSize = 32
	if buf.Len() != len(jobs)*recordSize {
		t.Fatalf("output length = %d, want %d", buf.Len(), len(jobs)*recordSize)
	}

	seen := make(map[int]bool)
	body := buf.Bytes()
	for i := 0; i < len(jobs); i++ {
		id, value, _, weight := decodeRecord(body[i*recordSize : (i+1)*recordSize])
		if id < 0 || id >= len(jobs) {
			t.Fatalf("record %d has out-of-range id %d", i, id)
		}
		if seen[id] {
			t.Fatalf("job id %d streamed twice", id)
		}
		seen[id] = true

		want := fm.Flux(jobs[id].Obs)
		if math.Abs(value-want.Value) > 1e-9 {
			t.Fatalf("job %d value = %v, want %v", id, value, want.Value)
		}
		if math.Abs(weight-want.Weight) > 1e-9 {
			t.Fatalf("job %d weight = %v, want %v", id, weight, want.Weight)
		}
	}
	if len(seen) != len(jobs) {
		t.Fatalf("saw %d distinct job ids, want %d", len(seen), len(jobs))
	}
}

func TestPoolRunEmptyJobs(t *testing.T) {
	g := geometry.New(nil)
	fm := fluxmeter.New(g, reference.NewDefault(), fluxmeter.CSDA, nil)

	var buf bytes.Buffer
	pool := NewPool(fm, 4)
	if err := pool.Run(nil, &buf); err != nil {
		t.Fatalf("Run with no jobs: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("output length = %d, want 0", buf.Len())
	}
}

func TestNewPoolClampsConcurrency(t *testing.T) {
	g := geometry.New(nil)
	fm := fluxmeter.New(g, reference.NewDefault(), fluxmeter.CSDA, nil)
	p := NewPool(fm, 0)
	if p.nconc != 1 {
		t.Fatalf("NewPool(fm, 0).nconc = %d, want 1", p.nconc)
	}
}

// Package sim adapts the original event-processing worker pool (a
// fixed set of goroutines draining a shared job channel, a paired
// errc/resc channel pair, and a streaming write(f io.Writer) drain)
// into a flux-batch runner: every worker owns its own Fluxmeter clone,
// jobs are Observer queries, and results stream out as packed
// little-endian records instead of opaque Result.Data blobs.
package sim

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/niess/mulder/fluxmeter"
)

// Job is one batch flux request: a caller-assigned id (used to re-sort
// the output, since results are written in completion order) and the
// observer state to evaluate.
type Job struct {
	ID  int
	Obs fluxmeter.Observer
}

// Pool runs a fixed number of worker goroutines against a shared job
// queue, each goroutine owning an independent Fluxmeter clone rather
// than sharing one across goroutines.
type Pool struct {
	nconc int
	fm    *fluxmeter.Fluxmeter
}

// NewPool returns a Pool of nconc workers (at least 1), each a clone of
// fm with its own random source and stepper cache.
func NewPool(fm *fluxmeter.Fluxmeter, nconc int) *Pool {
	if nconc < 1 {
		nconc = 1
	}
	return &Pool{nconc: nconc, fm: fm}
}

// Run evaluates every job's flux across the pool's workers and streams
// packed little-endian (id, value, asymmetry, weight) records to w, in
// completion order rather than job order.
func (p *Pool) Run(jobs []Job, w io.Writer) error {
	jobc := make(chan Job)
	resc := make(chan []byte, p.nconc)
	errc := make(chan error, 1)

	for i := 0; i < p.nconc; i++ {
		worker := p.fm.Clone(int64(i) + 1)
		go func() {
			for j := range jobc {
				resc <- encodeResult(j.ID, worker.Flux(j.Obs))
			}
		}()
	}

	go func() {
		for _, j := range jobs {
			jobc <- j
		}
		close(jobc)
	}()

	bw := bufio.NewWriter(w)
	go func() {
		defer close(errc)
		for i := 0; i < len(jobs); i++ {
			if _, err := bw.Write(<-resc); err != nil {
				errc <- err
				return
			}
		}
	}()

	err := <-errc
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	return err
}

func encodeResult(id int, res fluxmeter.Result) []byte {
	buf := make([]byte, 4*8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(id))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(res.Value))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(res.Asymmetry))
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(res.Weight))
	return buf
}

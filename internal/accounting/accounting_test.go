package accounting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvid-broker/resourcebroker/internal/accounting"
	"github.com/dvid-broker/resourcebroker/internal/wire"
)

func TestAdmissibleChecksAllFourFields(t *testing.T) {
	cfg := wire.Config{ReadReqs: 2, ReadData: 100, WriteReqs: 1, WriteData: 100}

	// Write ceiling already exceeded by a prior tightened reconfigure;
	// an unrelated read request must still be refused (spec.md §4.2).
	stats := accounting.Stats{WriteReqs: 5}
	req := accounting.Request{ID: 1, Resource: "R", Read: true, NumOpts: 1, DataSize: 1}

	assert.False(t, accounting.Admissible(req, stats, cfg))
}

func TestAdmissibleUsesLessThanOrEqual(t *testing.T) {
	cfg := wire.Config{ReadReqs: 1, ReadData: 1000, WriteReqs: 0, WriteData: 0}
	req := accounting.Request{ID: 1, Resource: "R", Read: true, NumOpts: 1, DataSize: 1000}

	assert.True(t, accounting.Admissible(req, accounting.Stats{}, cfg))
}

func TestInfeasibleDetectsUnwinnableRequest(t *testing.T) {
	cfg := wire.Config{ReadReqs: 10, ReadData: 100}
	req := accounting.Request{Read: true, NumOpts: 1, DataSize: 1000}

	assert.True(t, accounting.Infeasible(req, cfg))
}

func TestFeasibleButCurrentlyFullIsNotInfeasible(t *testing.T) {
	cfg := wire.Config{ReadReqs: 1, ReadData: 1000}
	req := accounting.Request{Read: true, NumOpts: 1, DataSize: 1000}

	assert.False(t, accounting.Infeasible(req, cfg))
}

func TestCommitThenReleaseIsIdentity(t *testing.T) {
	stats := accounting.Stats{}
	req := accounting.Request{Resource: "R", Read: false, NumOpts: 1, DataSize: 1000}

	accounting.Commit(req, &stats)
	assert.Equal(t, accounting.Stats{WriteReqs: 1, WriteData: 1000}, stats)

	accounting.Release(req, &stats)
	assert.Equal(t, accounting.Stats{}, stats)
}

package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProofGating(t *testing.T) {
	readOnly := map[Kind]bool{KindQueryBalance: true, KindQueryState: true, KindGetStatus: true}
	for _, k := range AllKinds() {
		assert.Equal(t, !readOnly[k], k.RequiresProof(), k)
	}
}

func TestKindsAreDistinct(t *testing.T) {
	seen := map[Kind]bool{}
	for _, k := range AllKinds() {
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
}

func TestWithID(t *testing.T) {
	assert.Equal(t, "b", WithID(Success{ID: "a"}, "b").CorrelationID())
	assert.Equal(t, "b", WithID(Failure{ID: "a", Recoverable: true}, "b").CorrelationID())
	assert.Equal(t, Pending{ID: "b", EstimateMs: 5}, WithID(Pending{ID: "a", EstimateMs: 5}, "b"))
}

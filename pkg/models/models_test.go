package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to NodeState
		want     bool
	}{
		{NodeStatePending, NodeStateFetching, true},
		{NodeStatePending, NodeStateSerializing, true},
		{NodeStatePending, NodeStateValidating, false},
		{NodeStateFetching, NodeStateValidating, true},
		{NodeStateFetching, NodeStateSerializing, false},
		{NodeStateValidating, NodeStateSerializing, true},
		{NodeStateSerializing, NodeStateDone, true},
		{NodeStateFetching, NodeStateFailed, true},
		{NodeStateDone, NodeStateFailed, false},
		{NodeStateFailed, NodeStatePending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestEnums_IsValid(t *testing.T) {
	assert.True(t, ChangeFreq("").IsValid())
	assert.True(t, ChangeFreqDaily.IsValid())
	assert.False(t, ChangeFreq("sometimes").IsValid())

	assert.True(t, ContentTypeProduct.IsValid())
	assert.False(t, ContentType("video").IsValid())

	assert.True(t, AvailabilityOutOfStockObsolete.IsValid())
	assert.False(t, Availability("").IsValid())

	assert.True(t, ShardingNone.IsValid())
	assert.True(t, ShardingCustom.IsValid())
	assert.False(t, ShardingStrategy("hash").IsValid())

	assert.True(t, NodeKindSubIndex.IsAggregate())
	assert.False(t, NodeKindFinal.IsAggregate())
	assert.False(t, NodeKind("LEAF").IsValid())

	assert.True(t, ChangeTypeUnchanged.IsValid())
	assert.Equal(t, "unset", ChangeType("").String())
}

func TestRecordDate(t *testing.T) {
	updated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	m := Motorization{ID: 1, YearFrom: 2011, UpdatedAt: updated}
	assert.Equal(t, 2011, m.RecordDate().Year())

	m.YearFrom = 0
	assert.Equal(t, updated, m.RecordDate())

	p := Product{ID: 2}
	assert.True(t, p.RecordDate().IsZero())
	created := time.Date(2019, 3, 2, 0, 0, 0, 0, time.UTC)
	p.CreatedAt = &created
	assert.Equal(t, created, p.RecordDate())

	var r Record = StaticPage{ID: 3, Path: "/contact"}
	assert.Equal(t, "/contact", r.RecordSlug())
	assert.Equal(t, EntityStatic, r.Kind())
}

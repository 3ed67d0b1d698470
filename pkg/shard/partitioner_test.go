package shard

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

func products(ids ...int64) []models.Record {
	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Product{ID: id})
	}
	return out
}

func TestPartition_NumericHalfOpen(t *testing.T) {
	p, err := NewPartitioner(models.ShardingNumeric, []Spec{
		{Name: "p0", Filter: NumericFilter(0, 10000)},
	}, nil)
	require.NoError(t, err)

	res := p.Partition(products(0, 9999, 10000, 10001))

	require.Len(t, res.Buckets, 1)
	var got []int64
	for _, r := range res.Buckets[0].Records {
		got = append(got, r.RecordID())
	}
	assert.Equal(t, []int64{0, 9999}, got)
	require.Len(t, res.Unmatched, 2)
	assert.Equal(t, int64(10000), res.Unmatched[0].RecordID())
	assert.Equal(t, int64(10001), res.Unmatched[1].RecordID())
}

func TestPartition_NumericCoverageProperty(t *testing.T) {
	const shardSize, shards = 10000, 8
	var specs []Spec
	for i := int64(0); i < shards; i++ {
		specs = append(specs, Spec{Name: "p", Filter: NumericFilter(i*shardSize, (i+1)*shardSize)})
	}
	p, err := NewPartitioner(models.ShardingNumeric, specs, nil)
	require.NoError(t, err)
	assert.Empty(t, Overlaps(specs))
	assert.Empty(t, Gaps(specs))

	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 5000; n++ {
		id := rng.Int63n(shardSize * shards)
		rec := models.Product{ID: id}

		owners := 0
		for _, s := range specs {
			if s.Filter.Match(rec) {
				owners++
			}
		}
		require.Equal(t, 1, owners, "id %d matched %d shards", id, owners)
		assert.Equal(t, int(id/shardSize), p.Owner(rec))
	}
}

func TestPartition_StableAcrossOrder(t *testing.T) {
	p, err := NewPartitioner(models.ShardingOffset, []Spec{
		{Name: "a", Filter: OffsetFilter(0, 100)},
		{Name: "b", Filter: OffsetFilter(100, 100)},
	}, nil)
	require.NoError(t, err)

	forward := p.Partition(products(1, 150, 99, 100, 199))
	reverse := p.Partition(products(199, 100, 99, 150, 1))

	ids := func(b Bucket) map[int64]bool {
		m := map[int64]bool{}
		for _, r := range b.Records {
			m[r.RecordID()] = true
		}
		return m
	}
	for i := range forward.Buckets {
		assert.Equal(t, ids(forward.Buckets[i]), ids(reverse.Buckets[i]))
	}
	assert.Len(t, forward.Buckets[0].Records, 2)
	assert.Len(t, forward.Buckets[1].Records, 3)
}

func TestPartition_Alphabetic(t *testing.T) {
	ac, err := AlphabeticFilter(`^([a-c])`)
	require.NoError(t, err)
	dz, err := AlphabeticFilter(`^([d-z])`)
	require.NoError(t, err)

	p, err := NewPartitioner(models.ShardingAlphabetic, []Spec{{Name: "a-c", Filter: ac}, {Name: "d-z", Filter: dz}}, nil)
	require.NoError(t, err)

	recs := []models.Record{
		models.Brand{ID: 1, Slug: "Audi"},
		models.Brand{ID: 2, Slug: "citroen"},
		models.Brand{ID: 3, Slug: "renault"},
		models.Brand{ID: 4, Slug: "4x4-motors"},
	}
	res := p.Partition(recs)

	assert.Len(t, res.Buckets[0].Records, 2)
	assert.Len(t, res.Buckets[1].Records, 1)
	require.Len(t, res.Unmatched, 1, "unmatched rows must be kept, not dropped")
	assert.Equal(t, "4x4-motors", res.Unmatched[0].RecordSlug())
	assert.Equal(t, "a", ac.Key(recs[0]))
}

func TestPartition_TemporalAndCustom(t *testing.T) {
	date := func(y int) time.Time { return time.Date(y, 6, 1, 0, 0, 0, 0, time.UTC) }
	p, err := NewPartitioner(models.ShardingTemporal, []Spec{
		{Name: "2023", Filter: TemporalFilter(2023)},
		{Name: "2024", Filter: TemporalFilter(2024)},
	}, nil)
	require.NoError(t, err)

	res := p.Partition([]models.Record{
		models.BlogArticle{ID: 1, PublishedAt: date(2023)},
		models.BlogArticle{ID: 2, PublishedAt: date(2024)},
		models.BlogArticle{ID: 3, PublishedAt: date(2024)},
		models.BlogArticle{ID: 4},
	})
	assert.Len(t, res.Buckets[0].Records, 1)
	assert.Len(t, res.Buckets[1].Records, 2)
	assert.Len(t, res.Unmatched, 1)

	preds := DefaultPredicates()
	cp, err := NewPartitioner(models.ShardingCustom, []Spec{
		{Name: "stock", Filter: CustomFilter("in_stock", preds["in_stock"])},
	}, nil)
	require.NoError(t, err)
	cres := cp.Partition([]models.Record{
		models.Product{ID: 1, Availability: models.AvailabilityInStock},
		models.Product{ID: 2, Availability: models.AvailabilityOutOfStockObsolete},
		models.Brand{ID: 3},
	})
	assert.Len(t, cres.Buckets[0].Records, 1)
	assert.Len(t, cres.Unmatched, 2)
}

func TestNewPartitioner_Errors(t *testing.T) {
	_, err := NewPartitioner("hash", nil, nil)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	_, err = NewPartitioner(models.ShardingNone, nil, nil)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	_, err = NewPartitioner(models.ShardingNumeric, []Spec{{Name: "x", Filter: TemporalFilter(2020)}}, nil)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	_, err = AlphabeticFilter("([a-")
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestOverlapsAndGaps(t *testing.T) {
	specs := []Spec{
		{Name: "a", Filter: NumericFilter(0, 10000)},
		{Name: "b", Filter: NumericFilter(10001, 20000)},
		{Name: "c", Filter: NumericFilter(15000, 25000)},
	}

	overlaps := Overlaps(specs)
	require.Len(t, overlaps, 1)
	assert.Equal(t, Overlap{A: "b", B: "c", From: 15000, To: 20000}, overlaps[0])

	gaps := Gaps(specs)
	require.Len(t, gaps, 1)
	assert.Equal(t, Gap{From: 10000, To: 10001}, gaps[0])

	assert.Empty(t, Overlaps([]Spec{{Name: "t", Filter: TemporalFilter(2020)}, {Name: "u", Filter: TemporalFilter(2020)}}))
}

func TestFilter_String(t *testing.T) {
	assert.Equal(t, "numeric[0,100)", NumericFilter(0, 100).String())
	assert.Equal(t, "offset[50,+10)", OffsetFilter(50, 10).String())
	assert.Equal(t, "temporal(2024)", TemporalFilter(2024).String())
	assert.Equal(t, "custom(in_stock)", CustomFilter("in_stock", nil).String())

	start, end, ok := TemporalFilter(2024).YearRange()
	assert.True(t, ok)
	assert.Equal(t, 2024, start.Year())
	assert.Equal(t, 2025, end.Year())
}

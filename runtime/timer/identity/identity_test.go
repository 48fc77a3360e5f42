package identity

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeneratorEmbedsTimestamp(t *testing.T) {
	gen := NewGenerator()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id := gen.NewAt(at)

	require.Equal(t, 7, int(id.Version()))
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	require.Equal(t, at.UnixMilli(), ms)
}

func TestGeneratorOrderFollowsTime(t *testing.T) {
	gen := NewGenerator()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var rendered []string
	for i := 0; i < 10; i++ {
		rendered = append(rendered, gen.NewAt(base.Add(time.Duration(i)*time.Second)).String())
	}

	require.True(t, sort.StringsAreSorted(rendered),
		"lexicographic order must follow creation order")
}

func TestSequenceIsDeterministic(t *testing.T) {
	first := NewSequence(0xaa)
	second := NewSequence(0xaa)

	for i := 0; i < 5; i++ {
		require.Equal(t, first.New(), second.New())
	}
}

func TestSequencePrefixAndOrder(t *testing.T) {
	seq := NewSequence(0x42)

	var rendered []string
	for i := 0; i < 100; i++ {
		id := seq.New()
		require.Equal(t, byte(0x42), id[0])
		require.Equal(t, 7, int(id.Version()))
		rendered = append(rendered, id.String())
	}
	require.True(t, sort.StringsAreSorted(rendered))
}

func TestParseTypedIDs(t *testing.T) {
	gen := NewGenerator()
	raw := gen.New().String()

	tenantID, err := ParseTenantID(raw)
	require.NoError(t, err)
	require.Equal(t, raw, tenantID.String())
	require.False(t, tenantID.IsZero())

	serviceCallID, err := ParseServiceCallID(raw)
	require.NoError(t, err)
	require.Equal(t, raw, serviceCallID.String())

	envelopeID, err := ParseEnvelopeID(raw)
	require.NoError(t, err)
	require.Equal(t, raw, envelopeID.String())

	correlationID, err := ParseCorrelationID(raw)
	require.NoError(t, err)
	require.Equal(t, raw, correlationID.String())
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := ParseTenantID("not-a-uuid")
	require.Error(t, err)
	_, err = ParseServiceCallID("")
	require.Error(t, err)
	_, err = ParseEnvelopeID("1234")
	require.Error(t, err)
	_, err = ParseCorrelationID("zz")
	require.Error(t, err)
}

func TestZeroIDs(t *testing.T) {
	require.True(t, TenantID{}.IsZero())
	require.True(t, ServiceCallID{}.IsZero())
	require.True(t, EnvelopeID{}.IsZero())
	require.True(t, CorrelationID{}.IsZero())
}

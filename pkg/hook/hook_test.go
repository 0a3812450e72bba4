package hook

import (
	"errors"
	"testing"

	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(temp any) ingest.Mutation {
	return ingest.Mutation{
		TargetID:  "101",
		Table:     "Sensors",
		Fields:    map[string]any{"temp": temp, "location": "warehouse"},
		Operation: ingest.OpPut,
	}
}

func TestDefaultPipelineThreshold(t *testing.T) {
	testCases := []struct {
		name      string
		temp      any
		wantAlert bool
	}{
		{name: "above threshold", temp: 101.0, wantAlert: true},
		{name: "below threshold", temp: 99.9},
		{name: "exactly at threshold", temp: 100.0},
		{name: "numeric string above", temp: "101.5000", wantAlert: true},
		{name: "numeric string below", temp: "72.1234"},
		{name: "non numeric string", temp: "hot"},
		{name: "boolean", temp: true},
	}

	p := Default()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := reading(tc.temp)
			res, err := p.Run(in)
			require.NoError(t, err)
			assert.False(t, res.Reject)

			if tc.wantAlert {
				assert.Equal(t, true, res.Mutation.Fields["alert"])
				assert.Equal(t, map[string]any{"alert": true}, res.Annotations)
			} else {
				assert.NotContains(t, res.Mutation.Fields, "alert")
				assert.Empty(t, res.Annotations)
			}
			assert.NotContains(t, in.Fields, "alert", "input mutation must not be modified")
		})
	}
}

func TestThresholdIgnoresMissingField(t *testing.T) {
	m := ingest.Mutation{TargetID: "101", Operation: ingest.OpDelete, Fields: map[string]any{}}
	res, err := Default().Run(m)
	require.NoError(t, err)
	assert.Equal(t, m, res.Mutation)
}

func TestPipelineRejectionStopsChain(t *testing.T) {
	var calls []string
	p := &Pipeline{}
	p.Use("first", func(m ingest.Mutation) (Result, error) {
		calls = append(calls, "first")
		return Result{Mutation: m, Annotations: map[string]any{"seen": true}}, nil
	})
	p.Use("gate", func(m ingest.Mutation) (Result, error) {
		calls = append(calls, "gate")
		return Rejected(m, "target %s is closed", m.TargetID), nil
	})
	p.Use("never", func(m ingest.Mutation) (Result, error) {
		calls = append(calls, "never")
		return Pass(m), nil
	})

	res, err := p.Run(reading(70.0))

	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, "gate", rejection.Hook)
	assert.Equal(t, "target 101 is closed", rejection.Reason)
	assert.True(t, res.Reject)
	assert.Equal(t, "target 101 is closed", res.Reason)
	assert.Equal(t, map[string]any{"seen": true}, res.Annotations)
	assert.Equal(t, []string{"first", "gate"}, calls)
}

func TestPipelineHookError(t *testing.T) {
	boom := errors.New("boom")
	p := &Pipeline{}
	p.Use("broken", func(m ingest.Mutation) (Result, error) {
		return Result{}, boom
	})

	_, err := p.Run(reading(1.0))
	assert.ErrorIs(t, err, boom)
	var rejection *RejectionError
	assert.False(t, errors.As(err, &rejection))
}

func TestPipelineFeedsMutationForward(t *testing.T) {
	rename, err := Rename(&RenameConfig{Columns: map[string]string{"temperature": "temp"}})
	require.NoError(t, err)

	p := &Pipeline{}
	p.Use("rename", rename)
	p.Use("threshold", Threshold(DefaultThreshold()))

	in := ingest.Mutation{TargetID: "101", Fields: map[string]any{"temperature": 120.0}, Operation: ingest.OpPut}
	res, err := p.Run(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temp": 120.0, "alert": true}, res.Mutation.Fields)
	assert.Equal(t, map[string]any{"alert": true}, res.Annotations)
}

func TestManagerChain(t *testing.T) {
	m := NewManager()
	m.RegisterBuiltins()

	t.Run("empty specs use the default pipeline", func(t *testing.T) {
		p, err := m.Chain(nil)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Len())
	})

	t.Run("configured chain", func(t *testing.T) {
		p, err := m.Chain([]Spec{
			{Type: "filter", Config: map[string]any{"targets": []any{"Sensors/*"}, "requireFields": []any{"temp"}}},
			{Type: "threshold", Config: map[string]any{"field": "temp", "above": "50", "annotation": "hot"}},
			{Type: "extract", Config: map[string]any{"fields": []any{"temp", "hot"}}},
		})
		require.NoError(t, err)
		require.Equal(t, 3, p.Len())

		res, err := p.Run(reading(60.0))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"temp": 60.0, "hot": true}, res.Mutation.Fields)
		assert.Equal(t, map[string]any{"hot": true}, res.Annotations)

		_, err = p.Run(ingest.Mutation{TargetID: "1", Table: "Other", Fields: map[string]any{"temp": 1.0}, Operation: ingest.OpPut})
		var rejection *RejectionError
		require.ErrorAs(t, err, &rejection)
		assert.Equal(t, "filter", rejection.Hook)
	})

	t.Run("threshold keeps defaults for omitted keys", func(t *testing.T) {
		p, err := m.Chain([]Spec{{Type: "threshold", Config: map[string]any{"above": 10}}})
		require.NoError(t, err)
		res, err := p.Run(reading(11.0))
		require.NoError(t, err)
		assert.Equal(t, true, res.Mutation.Fields["alert"])
	})

	t.Run("viper style lower-cased keys", func(t *testing.T) {
		_, err := m.Chain([]Spec{{Type: "filter", Config: map[string]any{"targetpattern": "^Sensors/"}}})
		assert.NoError(t, err)
	})

	errorCases := []struct {
		name string
		spec Spec
	}{
		{"unknown type", Spec{Type: "nope"}},
		{"unknown key", Spec{Type: "extract", Config: map[string]any{"fields": []any{"a"}, "bogus": 1}}},
		{"invalid extract", Spec{Type: "extract"}},
		{"invalid filter regex", Spec{Type: "filter", Config: map[string]any{"targetPattern": "("}}},
		{"invalid filter operation", Spec{Type: "filter", Config: map[string]any{"operations": []any{"get"}}}},
		{"empty rename", Spec{Type: "rename"}},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Chain([]Spec{tc.spec})
			assert.Error(t, err)
		})
	}

	_, err := m.Chain([]Spec{{Type: "nope"}})
	assert.ErrorIs(t, err, ErrUnknownHook)
}

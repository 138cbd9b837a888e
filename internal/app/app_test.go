package app

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/fantree/internal/builder"
	"github.com/vk/fantree/internal/scheduler"
)

func TestRun_TextOutputForEveryStrategy(t *testing.T) {
	a, out, logs := SetupAppTest(t, Config{
		Leaves:     4,
		FanIn:      2,
		Strategies: []builder.Strategy{builder.Sequential, builder.LeavesParallel, builder.FullyParallel},
		Workers:    4,
		NodeDelay:  time.Millisecond,
	})

	require.NoError(t, a.Run(context.Background()))

	text := out.String()
	for _, s := range []string{"sequential", "leaves-parallel", "fully-parallel"} {
		assert.Contains(t, text, "================ "+s+" ================")
	}
	assert.Equal(t, 3, strings.Count(text, "[[0 1 2 3],\n [1 5],\n [6]]"))
	assert.Equal(t, 3, strings.Count(text, "node delay=1ms; leaves=4; fan-in=2"))
	assert.Contains(t, logs.String(), "Build finished.")

	st := a.Status()
	assert.Equal(t, stateFinished, st.State)
	assert.Equal(t, []string{"sequential", "leaves-parallel", "fully-parallel"}, st.Finished)
	assert.Equal(t, 2, st.FanIn)
	assert.Equal(t, 4, st.Leaves)
	assert.Len(t, a.Results(), 3)
}

func TestRun_JSONOutput(t *testing.T) {
	a, out, _ := SetupAppTest(t, Config{
		Values:     []*big.Int{big.NewInt(5), big.NewInt(6), big.NewInt(7)},
		Strategies: []builder.Strategy{builder.FullyParallel},
		Output:     OutputJSON,
	})

	require.NoError(t, a.Run(context.Background()))

	var got []struct {
		Strategy  string          `json:"strategy"`
		Leaves    int             `json:"leaves"`
		FanIn     int             `json:"fan_in"`
		Levels    [][]json.Number `json:"levels"`
		Scheduler *struct {
			Completed int `json:"completed"`
		} `json:"scheduler"`
	}
	dec := json.NewDecoder(strings.NewReader(out.String()))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&got))

	require.Len(t, got, 1)
	assert.Equal(t, "fully-parallel", got[0].Strategy)
	assert.Equal(t, 3, got[0].Leaves)
	assert.Equal(t, 2, got[0].FanIn)
	assert.Equal(t, [][]json.Number{{"5", "6", "7"}, {"11"}}, got[0].Levels)
	require.NotNil(t, got[0].Scheduler)
	assert.Equal(t, 4, got[0].Scheduler.Completed)
}

func TestRun_BuildFailureIsReported(t *testing.T) {
	a, out, _ := SetupAppTest(t, Config{
		Leaves:     8,
		Strategies: []builder.Strategy{builder.FullyParallel},
		NodeDelay:  time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, out.String())
	assert.Equal(t, stateFailed, a.Status().State)
}

func TestHealthMux(t *testing.T) {
	a, _, _ := SetupAppTest(t, Config{Leaves: 2, Strategies: []builder.Strategy{builder.LeavesParallel}})
	srv := httptest.NewServer(a.healthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := builder.New(a.config.builderConfig(builder.LeavesParallel, nil))
	require.NoError(t, err)
	a.startBuild(builder.LeavesParallel, b)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, stateBuilding, st.State)
	assert.Equal(t, "leaves-parallel", st.Strategy)
	require.NotNil(t, st.Scheduler)
	assert.Equal(t, scheduler.DefaultWorkers, st.Scheduler.MaxInFlight)
	assert.Empty(t, st.Finished)
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(Config{Leaves: 3})
	require.NoError(t, err)
	assert.Equal(t, []builder.Strategy{builder.FullyParallel}, cfg.Strategies)
	assert.Equal(t, OutputText, cfg.Output)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "/", cfg.EventsNamespace)

	invalid := []Config{
		{Leaves: -1},
		{Leaves: 2, Values: []*big.Int{big.NewInt(1)}},
		{FanIn: 1},
		{Workers: -1},
		{NodeDelay: -time.Second},
		{HealthcheckPort: 70000},
		{Output: "yaml"},
		{TraceExporter: "zipkin"},
	}
	for _, c := range invalid {
		_, err := NewConfig(c)
		assert.Error(t, err, "%+v", c)
	}
}

func TestFormatLevels(t *testing.T) {
	levels := [][]*big.Int{{big.NewInt(0), big.NewInt(1)}, {big.NewInt(1)}}
	assert.Equal(t, "[[0 1],\n [1]]", formatLevels(levels))
	assert.Equal(t, "[[]]", formatLevels([][]*big.Int{{}}))
}

package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedJob(name string, calls *[]string) JobFunc {
	return JobFunc{JobName: name, Fn: func(context.Context) error {
		*calls = append(*calls, name)
		return nil
	}}
}

func TestRegistryKeepsReconcileOrder(t *testing.T) {
	var calls []string
	registry := NewRegistry(
		namedJob("pending_settlement", &calls),
		nil,
		namedJob("missing_credits", &calls),
		namedJob("balance_drift", &calls),
	)

	jobs := registry.Jobs()
	require.Len(t, jobs, 3)
	for _, job := range jobs {
		require.NoError(t, job.Run(context.Background()))
	}
	assert.Equal(t, []string{"pending_settlement", "missing_credits", "balance_drift"}, calls)

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0])
}

func TestRegistryReplacesJobWithSameName(t *testing.T) {
	var calls []string
	registry := NewRegistry(namedJob("balance_drift", &calls), namedJob("outbox_retention", &calls))
	registry.Register(JobFunc{JobName: "balance_drift", Fn: func(context.Context) error {
		calls = append(calls, "balance_drift_v2")
		return nil
	}})

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "balance_drift", jobs[0].Name())
	require.NoError(t, jobs[0].Run(context.Background()))
	assert.Equal(t, []string{"balance_drift_v2"}, calls)
}

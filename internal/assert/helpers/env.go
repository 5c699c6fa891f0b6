package helpers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/kode4food/agentflow/internal/capability"
	"github.com/kode4food/agentflow/internal/config"
	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/pkg/api"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine   *engine.Engine
	Redis    *miniredis.Miniredis
	Client   *redis.Client
	Config   *config.Config
	Caps     *engine.Capabilities
	Model    *MockModel
	Remote   *MockRemote
	Prompts  *capability.PromptIndex
	Filings  *blob.Bucket
	Memory   *capability.RedisMemory
	Examples *capability.RedisExamples
	Inbox    *capability.FeedbackInbox
	Cleanup  func()
}

// Capability names registered by NewTestEngine, matching the sample
// definitions
const (
	ModelCap    = "model"
	RemoteCap   = "db"
	PromptsCap  = "prompts"
	FilingsCap  = "filings"
	MemoryCap   = "session"
	ExamplesCap = "examples"
	UICap       = "ui"

	FilingsBucket = "sec"
)

const (
	testCallTimeout  = 2_000
	testFeedbackWait = 200
	defaultTimeout   = 5 * time.Second
)

// NewTestConfig creates a configuration with fast retries and debug logging
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.CallTimeout = testCallTimeout
	cfg.FeedbackWait = testFeedbackWait
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.RetryJitter = 0
	cfg.Retry = api.RetryConfig{
		MaxAttempts:  3,
		BackoffMs:    1,
		MaxBackoffMs: 10,
		BackoffType:  api.BackoffTypeExponential,
	}
	return cfg
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory Redis backend, an in-memory filing bucket, an in-memory prompt
// index, and mock model and remote endpoint capabilities
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	server, err := miniredis.Run()
	assert.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	cfg := NewTestConfig()
	cfg.Redis.Addr = server.Addr()

	prompts, err := capability.OpenPromptIndex("", 0)
	assert.NoError(t, err)
	assert.NoError(t, prompts.Add(SECPrompts()...))

	filings := memblob.OpenBucket(nil)
	loader := capability.NewBlobLoader(map[string]*blob.Bucket{
		FilingsBucket: filings,
	})

	env := &TestEngineEnv{
		Redis:    server,
		Client:   client,
		Config:   cfg,
		Caps:     engine.NewCapabilities(),
		Model:    NewMockModel(),
		Remote:   NewMockRemote(),
		Prompts:  prompts,
		Filings:  filings,
		Memory:   capability.NewRedisMemory(client, "test", 0),
		Examples: capability.NewRedisExamples(client, "test"),
		Inbox: capability.NewFeedbackInbox(
			time.Duration(testFeedbackWait) * time.Millisecond,
		),
	}

	env.Caps.RegisterModelAsker(ModelCap, env.Model)
	env.Caps.RegisterRemoteEndpoint(RemoteCap, env.Remote)
	env.Caps.RegisterPromptSource(PromptsCap, env.Prompts)
	env.Caps.RegisterResourceLoader(FilingsCap, loader)
	env.Caps.RegisterMemoryStore(MemoryCap, env.Memory)
	env.Caps.RegisterExampleStore(ExamplesCap, env.Examples)
	env.Caps.RegisterUIFeedback(UICap, env.Inbox)

	env.Engine = engine.New(cfg, env.Caps)
	env.Cleanup = func() {
		_ = env.Engine.Stop()
		_ = loader.Close()
		_ = prompts.Close()
		_ = client.Close()
		server.Close()
	}
	return env
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithEngine creates a test engine, executes the provided function with it,
// and ensures cleanup happens automatically
func WithEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		fn(env.Engine)
	})
}

// WithSECEnv creates a test engine with the sample SEC definitions loaded
func WithSECEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		assert.NoError(t, env.Engine.LoadDefinitions(SECDefinitions()))
		fn(env)
	})
}

// PutFiling stores a filing document in the filings bucket under id
func (e *TestEngineEnv) PutFiling(t *testing.T, id string, filing Filing) {
	t.Helper()
	data, err := json.Marshal(filing)
	assert.NoError(t, err)
	err = e.Filings.WriteAll(context.Background(), id+".json", data, nil)
	assert.NoError(t, err)
}

// RunFlow submits a flow and waits for it to reach a terminal state
func (e *TestEngineEnv) RunFlow(
	t *testing.T, id api.FlowID, inputs api.Args,
) *api.RunState {
	t.Helper()
	run, err := e.Engine.SubmitFlow(context.Background(), id, inputs)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return e.WaitRun(t, run.ID())
}

// RunWorkflow submits a workflow and waits for it to reach a terminal state
func (e *TestEngineEnv) RunWorkflow(
	t *testing.T, id api.WorkflowID, items []any, policy api.FailurePolicy,
) *api.RunState {
	t.Helper()
	run, err := e.Engine.SubmitWorkflow(
		context.Background(), id, items, nil, policy,
	)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return e.WaitRun(t, run.ID())
}

// WaitRun blocks until the run is terminal, failing the test on timeout
func (e *TestEngineEnv) WaitRun(t *testing.T, id api.RunID) *api.RunState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	st, err := e.Engine.Wait(ctx, id)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return st
}

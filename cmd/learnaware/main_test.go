package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/learnaware/tutor/internal/config"
	"github.com/learnaware/tutor/internal/database"
	"github.com/learnaware/tutor/internal/store"
	"github.com/learnaware/tutor/internal/store/storetest"
)

type pingClient struct{ listErr error }

func (pingClient) Ping(context.Context) error { return nil }

func (c pingClient) ListCollectionNames(context.Context, string) ([]string, error) {
	return nil, c.listErr
}

func (pingClient) Collection(string, string) store.Collection { return storetest.NewMemoryCollection() }

func (pingClient) Disconnect(context.Context) error { return nil }

func dbcheck(t *testing.T, cfg config.Config, dial database.Dialer) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	err := runDBCheck(context.Background(), cfg, zerolog.Nop(), dial, &out)
	report := map[string]any{}
	if decodeErr := json.Unmarshal(out.Bytes(), &report); decodeErr != nil {
		t.Fatalf("dbcheck output is not JSON: %v (%q)", decodeErr, out.String())
	}
	return report, err
}

func TestDBCheckHealthy(t *testing.T) {
	cfg := config.Config{MongoURI: "mongodb://db:27017", MongoDBName: "learnaware"}
	report, err := dbcheck(t, cfg, func(context.Context, database.Options) (database.Client, error) {
		return pingClient{}, nil
	})
	if err != nil {
		t.Fatalf("runDBCheck() error = %v", err)
	}
	if report["status"] != "healthy" {
		t.Fatalf("status = %v, want healthy", report["status"])
	}
}

func TestDBCheckFailsWhenUnreachable(t *testing.T) {
	cfg := config.Config{MongoURI: "mongodb://db:27017", MongoDBName: "learnaware"}
	report, err := dbcheck(t, cfg, func(context.Context, database.Options) (database.Client, error) {
		return nil, errors.New("server selection timeout")
	})
	if !errors.Is(err, errUnhealthy) {
		t.Fatalf("runDBCheck() error = %v, want errUnhealthy", err)
	}
	if report["status"] != "disconnected" {
		t.Fatalf("status = %v, want disconnected", report["status"])
	}
}

func TestDBCheckWithoutDatabaseNameIsPartial(t *testing.T) {
	cfg := config.Config{MongoURI: "mongodb://db:27017"}
	report, err := dbcheck(t, cfg, func(context.Context, database.Options) (database.Client, error) {
		return pingClient{}, nil
	})
	if !errors.Is(err, errUnhealthy) {
		t.Fatalf("runDBCheck() error = %v, want errUnhealthy", err)
	}
	if report["status"] != "partial" {
		t.Fatalf("status = %v, want partial", report["status"])
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "dbcheck"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}

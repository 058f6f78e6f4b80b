package repository_test

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

func setup(t *testing.T, name string) (*repository.Repositories, *testutil.FixtureFactory) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ts := suite.SetupSchema(t, context.Background(), name)
	return repository.NewRepositories(ts.DB), testutil.NewFixtureFactory(ts.DB)
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

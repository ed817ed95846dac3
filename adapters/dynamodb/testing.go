package dynamodb

import (
	"context"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// NewTestContainer starts dynamodb-local for the duration of the test and
// returns its endpoint.
func NewTestContainer(t Testing) string {
	ctx := t.Context()
	ddbC, err := testcontainers.Run(
		ctx, "amazon/dynamodb-local:latest",
		testcontainers.WithCmd("-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"),
		testcontainers.WithExposedPorts("8000/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("8000/tcp")),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ddbC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := ddbC.PortEndpoint(ctx, "8000/tcp", "http")
	require.NoError(t, err)
	t.Logf("dynamodb endpoint: %s", endpoint)
	return endpoint
}

// NewTestTable creates table name on a fresh dynamodb-local container.
func NewTestTable(t Testing, name string) *Table {
	ctx := t.Context()
	client, err := NewClient(ctx, ClientConfig{
		Endpoint:        NewTestContainer(t),
		Region:          "eu-central-1",
		AccessKeyID:     "local",
		SecretAccessKey: "local",
	})
	require.NoError(t, err)
	require.NoError(t, CreateTable(ctx, client, name))

	table, err := NewTable(TableConfig{Client: client, TableName: name})
	require.NoError(t, err)
	return table
}

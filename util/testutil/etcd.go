package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdEndpoint is where integration tests look for etcd.
const DefaultEtcdEndpoint = "localhost:2379"

// EtcdTestMutex ensures only one etcd integration test runs at a time across all packages.
var EtcdTestMutex sync.Mutex

// NewEtcdClient connects to endpoint, skipping the test if etcd does not
// answer within two seconds. The client is closed when the test ends.
func NewEtcdClient(t *testing.T, endpoint string) *clientv3.Client {
	t.Helper()
	cli, err := clientv3.New(clientv3.Config{Endpoints: []string{endpoint}, DialTimeout: 2 * time.Second})
	if err != nil {
		t.Skipf("Skipping: etcd not available: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Status(ctx, endpoint); err != nil {
		cli.Close()
		t.Skipf("Skipping: etcd not available at %s: %v", endpoint, err)
	}
	t.Cleanup(func() { cli.Close() })
	return cli
}

// PrepareEtcdPrefix returns a key prefix unique to the test, deleting any
// keys under it now and again when the test ends. It takes EtcdTestMutex
// for the duration of the test.
func PrepareEtcdPrefix(t *testing.T, cli *clientv3.Client) string {
	t.Helper()
	EtcdTestMutex.Lock()
	t.Cleanup(EtcdTestMutex.Unlock)

	prefix := "/oambridge-test/" + t.Name()
	clean := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
			t.Logf("Failed to clean etcd prefix %s: %v", prefix, err)
		}
	}
	clean()
	t.Cleanup(clean)
	return prefix
}

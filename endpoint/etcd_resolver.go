package endpoint

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdResolver implements Resolver using etcd v3 as a distributed phonebook:
//
//	Key:   /gbxremote/{fleet}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if a dedicated server process dies
// without deregistering, the lease expires and the stale entry disappears on
// its own.
type EtcdResolver struct {
	client *clientv3.Client
}

// NewEtcdResolver connects to the given etcd endpoints.
func NewEtcdResolver(endpoints []string) (*EtcdResolver, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdResolver{client: c}, nil
}

// Register adds an instance to etcd with a TTL lease and starts a background
// KeepAlive to renew it.
func (r *EtcdResolver) Register(fleet string, instance Instance, ttlSeconds int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, "/gbxremote/"+fleet+"/"+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain KeepAlive responses so the channel never fills up and blocks the lease renewal.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an instance from etcd.
func (r *EtcdResolver) Deregister(fleet string, addr string) error {
	_, err := r.client.Delete(context.TODO(), "/gbxremote/"+fleet+"/"+addr)
	return err
}

// Discover returns all currently registered instances for a fleet.
func (r *EtcdResolver) Discover(fleet string) ([]Instance, error) {
	ctx := context.TODO()
	prefix := "/gbxremote/" + fleet + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch monitors a fleet prefix and emits the full instance list on any change.
func (r *EtcdResolver) Watch(fleet string) <-chan []Instance {
	ctx := context.TODO()
	ch := make(chan []Instance, 1)
	prefix := "/gbxremote/" + fleet + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(fleet)
			if err == nil {
				ch <- instances
			}
		}
	}()

	return ch
}

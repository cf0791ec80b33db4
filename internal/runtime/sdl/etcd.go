package sdl

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	etcdRoot           = "/sdl/"
	defaultDialTimeout = 5 * time.Second
)

// EtcdConfig configures the etcd backend.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
}

// Etcd keeps keys under /sdl/<ns>/kv/ and group members under
// /sdl/<ns>/grp/<group>/<hex member>.
type Etcd struct {
	client *clientv3.Client
	kv     clientv3.KV
}

var _ Storage = (*Etcd)(nil)

// OpenEtcd connects to the cluster.
func OpenEtcd(cfg EtcdConfig) (*Etcd, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("sdl: etcd endpoints are required")
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sdl: etcd connect: %w", err)
	}
	return &Etcd{client: client, kv: client.KV}, nil
}

func kvPrefix(ns string) string { return etcdRoot + ns + "/kv/" }

func kvKey(ns, key string) string { return kvPrefix(ns) + key }

func groupPrefix(ns, group string) string { return etcdRoot + ns + "/grp/" + group + "/" }

func memberKey(ns, group string, member []byte) string {
	return groupPrefix(ns, group) + hex.EncodeToString(member)
}

func (e *Etcd) IsReady(ctx context.Context) bool {
	_, err := e.kv.Get(ctx, etcdRoot, clientv3.WithCountOnly())
	return err == nil
}

func (e *Etcd) Set(ctx context.Context, ns string, pairs map[string][]byte) error {
	ops := make([]clientv3.Op, 0, len(pairs))
	for key, value := range pairs {
		if err := checkKey(ns, key); err != nil {
			return err
		}
		ops = append(ops, clientv3.OpPut(kvKey(ns, key), string(value)))
	}
	if len(ops) == 0 {
		return nil
	}
	if _, err := e.kv.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("sdl: etcd set: %w", err)
	}
	return nil
}

func (e *Etcd) SetIfNotExists(ctx context.Context, ns, key string, value []byte) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	k := kvKey(ns, key)
	resp, err := e.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(k), "=", 0)).
		Then(clientv3.OpPut(k, string(value))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("sdl: etcd set %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

func (e *Etcd) Get(ctx context.Context, ns string, keys ...string) (map[string][]byte, error) {
	if ns == "" {
		return nil, ErrNamespaceRequired
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		resp, err := e.kv.Get(ctx, kvKey(ns, key))
		if err != nil {
			return nil, fmt.Errorf("sdl: etcd get %s: %w", key, err)
		}
		if len(resp.Kvs) > 0 {
			out[key] = resp.Kvs[0].Value
		}
	}
	return out, nil
}

func (e *Etcd) Delete(ctx context.Context, ns string, keys ...string) error {
	if ns == "" {
		return ErrNamespaceRequired
	}
	ops := make([]clientv3.Op, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, clientv3.OpDelete(kvKey(ns, key)))
	}
	if len(ops) == 0 {
		return nil
	}
	if _, err := e.kv.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("sdl: etcd delete: %w", err)
	}
	return nil
}

func (e *Etcd) DeleteIf(ctx context.Context, ns, key string, value []byte) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	k := kvKey(ns, key)
	resp, err := e.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(k), ">", 0), clientv3.Compare(clientv3.Value(k), "=", string(value))).
		Then(clientv3.OpDelete(k)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("sdl: etcd delete %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

func (e *Etcd) ListKeys(ctx context.Context, ns, pattern string) ([]string, error) {
	if ns == "" {
		return nil, ErrNamespaceRequired
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	prefix := kvPrefix(ns)
	resp, err := e.kv.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("sdl: etcd list: %w", err)
	}
	keys := []string{}
	for _, kv := range resp.Kvs {
		key := strings.TrimPrefix(string(kv.Key), prefix)
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (e *Etcd) DeleteAll(ctx context.Context, ns string) error {
	if ns == "" {
		return ErrNamespaceRequired
	}
	_, err := e.kv.Delete(ctx, kvPrefix(ns), clientv3.WithPrefix())
	return err
}

func (e *Etcd) AddMember(ctx context.Context, ns, group string, members ...[]byte) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	ops := make([]clientv3.Op, 0, len(members))
	for _, member := range members {
		ops = append(ops, clientv3.OpPut(memberKey(ns, group, member), string(member)))
	}
	return e.commit(ctx, ops)
}

func (e *Etcd) DeleteMember(ctx context.Context, ns, group string, members ...[]byte) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	ops := make([]clientv3.Op, 0, len(members))
	for _, member := range members {
		ops = append(ops, clientv3.OpDelete(memberKey(ns, group, member)))
	}
	return e.commit(ctx, ops)
}

func (e *Etcd) GetMembers(ctx context.Context, ns, group string) ([][]byte, error) {
	if err := checkKey(ns, group); err != nil {
		return nil, err
	}
	resp, err := e.kv.Get(ctx, groupPrefix(ns, group), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("sdl: etcd group %s: %w", group, err)
	}
	members := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		members = append(members, bytes.Clone(kv.Value))
	}
	sortMembers(members)
	return members, nil
}

func (e *Etcd) DelGroup(ctx context.Context, ns, group string) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	_, err := e.kv.Delete(ctx, groupPrefix(ns, group), clientv3.WithPrefix())
	return err
}

func (e *Etcd) Close() error {
	return e.client.Close()
}

func (e *Etcd) commit(ctx context.Context, ops []clientv3.Op) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := e.kv.Txn(ctx).Then(ops...).Commit()
	return err
}

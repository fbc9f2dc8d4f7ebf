package pool_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/objstore/pool"
	"github.com/snafus/cephsum-server/internal/pathmap"
)

type fakeResource struct {
	id     int
	closed bool
}

func (r *fakeResource) Close() error {
	r.closed = true
	return nil
}

func TestPoolRoundRobin(t *testing.T) {
	var created []*fakeResource
	i := 0
	p, err := pool.New(3, func() (pool.Resource, error) {
		r := &fakeResource{id: i}
		i++
		created = append(created, r)
		return r, nil
	}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 3, p.Size())

	var order []int
	for n := 0; n < 6; n++ {
		order = append(order, p.Get().(*fakeResource).id)
	}
	require.Equal(t, []int{0, 1, 2, 0, 1, 2}, order)
}

func TestPoolCapsAtMaxSize(t *testing.T) {
	p, err := pool.New(100, func() (pool.Resource, error) {
		return &fakeResource{}, nil
	}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, pool.MaxSize, p.Size())
}

func TestPoolConstructionFailureClosesPartial(t *testing.T) {
	var created []*fakeResource
	_, err := pool.New(3, func() (pool.Resource, error) {
		if len(created) == 1 {
			return nil, fmt.Errorf("boom")
		}
		r := &fakeResource{}
		created = append(created, r)
		return r, nil
	}, nil, 0)
	require.Error(t, err)
	for _, r := range created {
		require.True(t, r.closed)
	}
}

func TestSetPathMapperSwapsLiveMapper(t *testing.T) {
	original := pathmap.New()
	p, err := pool.New(1, func() (pool.Resource, error) {
		return &fakeResource{}, nil
	}, original, 0)
	require.NoError(t, err)
	require.Same(t, original, p.PathMapper())

	reloaded := pathmap.New()
	p.SetPathMapper(reloaded)
	require.Same(t, reloaded, p.PathMapper())
}

func TestShutdownAllClosesResources(t *testing.T) {
	var created []*fakeResource
	p, err := pool.New(2, func() (pool.Resource, error) {
		r := &fakeResource{}
		created = append(created, r)
		return r, nil
	}, nil, 0)
	require.NoError(t, err)

	p.ShutdownAll()
	require.Equal(t, 0, p.Size())
	for _, r := range created {
		require.True(t, r.closed)
	}
}

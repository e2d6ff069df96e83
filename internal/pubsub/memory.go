package pubsub

import (
	"context"
)

// MemoryPubsub 단일 프로세스용 메모리 Pubsub
type MemoryPubsub struct {
	set *listenerSet
}

func NewInMemory() *MemoryPubsub {
	return &MemoryPubsub{set: newListenerSet()}
}

func (m *MemoryPubsub) Subscribe(channel string, listener Listener) (cancel func(), err error) {
	return m.SubscribeWithErr(channel, ignoreErrors(listener))
}

func (m *MemoryPubsub) SubscribeWithErr(channel string, listener ListenerWithErr) (cancel func(), err error) {
	id, _, err := m.set.add(channel, listener)
	if err != nil {
		return nil, err
	}
	return func() { m.set.remove(channel, id) }, nil
}

func (m *MemoryPubsub) Publish(_ context.Context, channel string, message []byte) error {
	m.set.dispatch(channel, message)
	return nil
}

func (m *MemoryPubsub) Close() error {
	m.set.closeAll()
	return nil
}

package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Gateway used by tests and local runs without a chat
// platform attached. It records enough state to assert on channel
// membership and posted messages.
type Fake struct {
	mu         sync.Mutex
	nextID     int
	channels   map[string]*FakeChannel
	categories map[string]string // guildID+slot -> categoryID
	dms        map[string]string // userID -> channelID

	// CreateErr, when set, is returned by the next CreateChannel call and
	// then cleared. Lets tests exercise the transient-retry path.
	CreateErr error

	CreateCalls int
}

// FakeChannel is the recorded state of one fake channel.
type FakeChannel struct {
	ID         string
	GuildID    string
	CategoryID string
	Name       string
	Topic      string
	Access     map[string]Access
	Messages   []FakeMessage
	IsThread   bool
	ParentID   string
}

type FakeMessage struct {
	ID    string
	Embed Embed
}

func NewFake() *Fake {
	return &Fake{
		channels:   make(map[string]*FakeChannel),
		categories: make(map[string]string),
		dms:        make(map[string]string),
	}
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *Fake) CreateChannel(_ context.Context, guildID, categoryID, name, topic string, access []UserAccess) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++
	if f.CreateErr != nil {
		err := f.CreateErr
		f.CreateErr = nil
		return "", err
	}

	ch := &FakeChannel{
		ID:         f.newID("chan"),
		GuildID:    guildID,
		CategoryID: categoryID,
		Name:       name,
		Topic:      topic,
		Access:     make(map[string]Access),
	}
	for _, a := range access {
		ch.Access[a.UserID] = a.Access
	}
	f.channels[ch.ID] = ch
	return ch.ID, nil
}

func (f *Fake) DeleteChannel(_ context.Context, channelID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return ErrNotFound
	}
	delete(f.channels, channelID)
	return nil
}

func (f *Fake) SetUserAccess(_ context.Context, channelID, userID string, access Access) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.Access[userID] = access
	return nil
}

func (f *Fake) ClearUserAccess(_ context.Context, channelID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	delete(ch.Access, userID)
	return nil
}

func (f *Fake) Send(_ context.Context, channelID string, embed Embed) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return "", ErrNotFound
	}
	msg := FakeMessage{ID: f.newID("msg"), Embed: embed}
	ch.Messages = append(ch.Messages, msg)
	return msg.ID, nil
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	for i, m := range ch.Messages {
		if m.ID == messageID {
			ch.Messages = append(ch.Messages[:i], ch.Messages[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (f *Fake) FindCategory(_ context.Context, guildID string, slot CategorySlot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := guildID + "/" + string(slot)
	if id, ok := f.categories[key]; ok {
		return id, nil
	}
	id := f.newID("cat")
	f.categories[key] = id
	return id, nil
}

func (f *Fake) ChannelExists(_ context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok, nil
}

func (f *Fake) OpenDM(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.dms[userID]; ok {
		return id, nil
	}
	ch := &FakeChannel{
		ID:     f.newID("dm"),
		Name:   "dm-" + userID,
		Access: map[string]Access{userID: {Read: true, Write: true}},
	}
	f.channels[ch.ID] = ch
	f.dms[userID] = ch.ID
	return ch.ID, nil
}

func (f *Fake) CreateThread(_ context.Context, parentChannelID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[parentChannelID]; !ok {
		return "", ErrNotFound
	}
	ch := &FakeChannel{
		ID:       f.newID("thread"),
		Name:     name,
		Access:   make(map[string]Access),
		IsThread: true,
		ParentID: parentChannelID,
	}
	f.channels[ch.ID] = ch
	return ch.ID, nil
}

func (f *Fake) DeleteThread(_ context.Context, threadID string) error {
	return f.DeleteChannel(context.Background(), threadID, "thread removed")
}

// AddChannel seeds a channel under a fixed id, for tests referencing
// channels created outside the code under test.
func (f *Fake) AddChannel(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = &FakeChannel{ID: id, Name: name, Access: make(map[string]Access)}
}

// Channel returns a copy of the recorded channel state, or nil.
func (f *Fake) Channel(channelID string) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil
	}
	cp := *ch
	cp.Access = make(map[string]Access, len(ch.Access))
	for k, v := range ch.Access {
		cp.Access[k] = v
	}
	cp.Messages = append([]FakeMessage(nil), ch.Messages...)
	return &cp
}

// ChannelCount reports how many channels currently exist.
func (f *Fake) ChannelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLookups(t *testing.T) {
	store := NewMemoryStore(Seed())

	chat, ok := store.FindByMode(ModeChat)
	require.True(t, ok)
	assert.Equal(t, DefaultChatID, chat.ID)
	assert.Equal(t, "translate by chat", chat.Greeting)

	translator, ok := store.FindByMode(ModeTranslate)
	require.True(t, ok)
	assert.Equal(t, "tool of translate", translator.Greeting)

	_, ok = store.FindByID("missing")
	assert.False(t, ok)
}

func TestMemoryStoreKeepsFirstDuplicate(t *testing.T) {
	store := NewMemoryStore([]Persona{
		{ID: "a", Mode: ModeChat, Name: "first"},
		{ID: "a", Mode: ModeChat, Name: "second"},
		{ID: "b", Mode: ModeChat},
	})

	assert.Len(t, store.List(), 2)
	got, ok := store.FindByID("a")
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)

	byMode, _ := store.FindByMode(ModeChat)
	assert.Equal(t, "a", byMode.ID)
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	got, _ := store.FindByID(DefaultChatID)
	assert.NotEqual(t, "changed", got.Name)
}

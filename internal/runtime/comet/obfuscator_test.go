package comet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObfuscator_StableAndReversible(t *testing.T) {
	o := NewObfuscator()

	id := o.Obfuscate(Message, "1098765432109876543")
	assert.NotEqual(t, "1098765432109876543", id)
	assert.Equal(t, id, o.Obfuscate(Message, "1098765432109876543"))

	realID, ok := o.Reveal(Message, id)
	require.True(t, ok)
	assert.Equal(t, "1098765432109876543", realID)
}

func TestObfuscator_KindsAreIndependent(t *testing.T) {
	o := NewObfuscator()

	user := o.Obfuscate(User, "42")
	channel := o.Obfuscate(Channel, "42")
	assert.NotEqual(t, user, channel)

	_, ok := o.Reveal(Channel, user)
	assert.False(t, ok)
	assert.Equal(t, 1, o.Len(User))
	assert.Equal(t, 1, o.Len(Channel))
	assert.Equal(t, 0, o.Len(Guild))
}

func TestObfuscator_CustomKind(t *testing.T) {
	o := NewObfuscator()
	id := o.Obfuscate(EntityKind("thread"), "t-1")

	realID, ok := o.Reveal(EntityKind("thread"), id)
	require.True(t, ok)
	assert.Equal(t, "t-1", realID)
}

func TestObfuscator_Forget(t *testing.T) {
	o := NewObfuscator()
	id := o.Obfuscate(Guild, "g-1")

	assert.True(t, o.Forget(Guild, "g-1"))
	assert.False(t, o.Forget(Guild, "g-1"))
	_, ok := o.Reveal(Guild, id)
	assert.False(t, ok)
	assert.NotEqual(t, id, o.Obfuscate(Guild, "g-1"))
}

func TestObfuscator_ConcurrentObfuscateAgrees(t *testing.T) {
	o := NewObfuscator()

	const workers = 16
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Obfuscate(User, "same-user")
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
	assert.Equal(t, 1, o.Len(User))
}

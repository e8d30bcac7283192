package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLexeme_Confirm(t *testing.T) {
	for _, in := range []string{"yes", "  Yes ", "OK", "go", "confirm", "是", "确认"} {
		isConfirm, isCancel := classifyLexeme(in)
		assert.True(t, isConfirm, "expected %q to confirm", in)
		assert.False(t, isCancel)
	}
}

func TestClassifyLexeme_Cancel(t *testing.T) {
	for _, in := range []string{"no", " No", "cancel", "STOP", "取消", "算了"} {
		isConfirm, isCancel := classifyLexeme(in)
		assert.False(t, isConfirm)
		assert.True(t, isCancel, "expected %q to cancel", in)
	}
}

func TestClassifyLexeme_Neither(t *testing.T) {
	for _, in := range []string{"", "sure thing", "maybe later", "yesplease"} {
		isConfirm, isCancel := classifyLexeme(in)
		assert.False(t, isConfirm)
		assert.False(t, isCancel)
	}
}

func TestPendingConfirmation_Expired(t *testing.T) {
	now := time.Now()
	p := PendingConfirmation{CreatedAt: now.Add(-6 * time.Minute)}
	assert.True(t, p.Expired(now, 5*time.Minute))

	fresh := PendingConfirmation{CreatedAt: now.Add(-1 * time.Minute)}
	assert.False(t, fresh.Expired(now, 5*time.Minute))
}

func TestConfirmationStore_SetGetClear(t *testing.T) {
	store := newConfirmationStore()
	_, ok := store.get("agent:a1:main")
	assert.False(t, ok)

	p := PendingConfirmation{SessionKey: "agent:a1:main", ToolName: "send_email"}
	store.set(p)

	got, ok := store.get("agent:a1:main")
	assert.True(t, ok)
	assert.Equal(t, "send_email", got.ToolName)

	store.clear("agent:a1:main")
	_, ok = store.get("agent:a1:main")
	assert.False(t, ok)
}

package bootstrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApp_ShutdownRunsCleanupInReverse(t *testing.T) {
	app := &App{}
	var order []string
	app.addCleanup(func() error { order = append(order, "database"); return nil })
	app.addCleanup(func() error { order = append(order, "redis"); return errors.New("already closed") })
	app.addCleanup(func() error { order = append(order, "kafka"); return nil })

	app.Shutdown()
	assert.Equal(t, []string{"kafka", "redis", "database"}, order)

	// 重复调用不会再次执行清理
	app.Shutdown()
	assert.Len(t, order, 3)
}

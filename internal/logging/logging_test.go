//
//  Copyright © CWMS Data Project. All rights reserved.
//

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestGetLoggerReturnsSameInstance(t *testing.T) {
	a := GetLogger("test.module")
	b := GetLogger("test.module")
	assert.Same(t, a, b)
}

func TestLoggerEmitsModuleAndActorFields(t *testing.T) {
	logger := GetLogger("test.fields")

	var buf bytes.Buffer
	logger.SetOut(&buf)
	logger.Info("alice", "login", "hello")

	out := buf.String()
	assert.Contains(t, out, `"module":"test.fields"`)
	assert.Contains(t, out, `"actor":"alice"`)
	assert.Contains(t, out, `"action":"login"`)
	assert.Contains(t, out, "hello")
}

func TestUpdateLogLevels(t *testing.T) {
	a := GetLogger("test.levels.a")
	b := GetLogger("test.levels.b")

	err := UpdateLogLevels("test.levels.a:debug ; .:warn")
	assert.Nil(t, err)

	assert.True(t, a.IsDebugEnabled())
	assert.False(t, b.IsDebugEnabled())

	var buf bytes.Buffer
	b.SetOut(&buf)
	b.Info("sys", "noop", "should be suppressed")
	assert.Equal(t, "", strings.TrimSpace(buf.String()))
}

func TestSetLevelSuppressesLowerLevels(t *testing.T) {
	logger := GetLogger("test.suppress")

	var buf bytes.Buffer
	logger.SetOut(&buf)
	logger.SetLevel(zapcore.ErrorLevel)

	logger.SysInfof("invisible")
	logger.SysErrorf("visible")

	out := buf.String()
	assert.NotContains(t, out, "invisible")
	assert.Contains(t, out, "visible")
}

//
//  Copyright © CWMS Data Project. All rights reserved.
//

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineResultBoolean(t *testing.T) {
	var resp EngineResponse
	err := json.Unmarshal([]byte(`{"result": true}`), &resp)
	assert.Nil(t, err)
	assert.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Allow)
	assert.Empty(t, resp.Result.Reason)

	err = json.Unmarshal([]byte(`{"result": false}`), &resp)
	assert.Nil(t, err)
	assert.False(t, resp.Result.Allow)
}

func TestEngineResultObject(t *testing.T) {
	payload := `{"result": {"allow": true, "reason": "office match", "filters": [{"type":"office","field":"office_id","operator":"in","value":["SWT"]}]}}`

	var resp EngineResponse
	err := json.Unmarshal([]byte(payload), &resp)
	assert.Nil(t, err)
	assert.True(t, resp.Result.Allow)
	assert.Equal(t, "office match", resp.Result.Reason)
	assert.Len(t, resp.Result.Filters, 1)
	assert.Equal(t, "office", resp.Result.Filters[0].Type)
}

func TestEngineResultMalformed(t *testing.T) {
	var resp EngineResponse
	err := json.Unmarshal([]byte(`{"result": "yes"}`), &resp)
	assert.NotNil(t, err)
}

func TestEngineResultAbsent(t *testing.T) {
	var resp EngineResponse
	err := json.Unmarshal([]byte(`{}`), &resp)
	assert.Nil(t, err)
	assert.Nil(t, resp.Result)
}

func TestAnonymousIdentity(t *testing.T) {
	assert.True(t, Anonymous.IsAnonymous())
	assert.Empty(t, Anonymous.Roles)
	assert.Empty(t, Anonymous.Offices)
	assert.False(t, Anonymous.HasRole("system_admin"))
}

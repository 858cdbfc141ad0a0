package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Fallback(t *testing.T) {
	p := NewParser(nil)

	inputs := []string{
		"",
		"not json {",
		"Hello there, how are you?",
		"[1, 2, 3]",
		`{"Message": 42}`,
		`{"Action": "camera_enable"}`,
		"{{{{",
		"}{",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			resp := p.Parse(in)
			require.NotNil(t, resp.Message)
			assert.Equal(t, FallbackText, resp.Message.Text)
			assert.Nil(t, resp.Action)
			assert.True(t, resp.Fallback)
		})
	}
}

func TestParse_Message(t *testing.T) {
	p := NewParser(nil)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"single", `{"Message":{"message_1":"hi"}}`, "hi"},
		{"joined in order", `{"Message":{"message_2":"world","message_1":"hello"}}`, "world hello"},
		{"bare string", `{"Message":"hi there"}`, "hi there"},
		{"lowercase facet", `{"message":{"message_1":"hi"}}`, "hi"},
		{"code fence", "```json\n{\"Message\":{\"message_1\":\"fenced\"}}\n```", "fenced"},
		{"surrounding prose", `Sure! {"Message":{"message_1":"ok"}} Hope that helps.`, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := p.Parse(tt.raw)
			require.NotNil(t, resp.Message)
			assert.Equal(t, tt.want, resp.Message.Text)
			assert.False(t, resp.Fallback)
		})
	}
}

func TestParse_EmptyObject(t *testing.T) {
	resp := NewParser(nil).Parse(`{}`)
	assert.Nil(t, resp.Message)
	assert.Nil(t, resp.Action)
	assert.False(t, resp.Fallback)
	assert.True(t, resp.Empty())
}

func TestParse_BottleScenario(t *testing.T) {
	raw := `{"Action":{"a1":{"skills":{"camera_enable":{}, "object_detection":{"object":"bottle"}}}}}`
	resp := NewParser(nil).Parse(raw)

	assert.Nil(t, resp.Message)
	require.NotNil(t, resp.Action)
	require.Len(t, resp.Action.Entries, 1)

	entry := resp.Action.Entries[0]
	assert.Equal(t, "a1", entry.Name)
	require.Len(t, entry.Skills, 2)
	assert.Equal(t, KindCameraEnable, entry.Skills[0].Kind)
	assert.Equal(t, KindObjectDetection, entry.Skills[1].Kind)
	assert.Equal(t, "bottle", entry.Skills[1].StringParam("object", "object"))
	assert.Empty(t, entry.Movements)
}

func TestParse_ActionOrderPreserved(t *testing.T) {
	raw := `{"Action":{
		"zeta":{"skills":{"camera_disable":{}}},
		"alpha":{"skills":{"wave_hand":{"speed":2}}},
		"mid":{"skills":{"camera_enable":null}}
	}}`
	resp := NewParser(nil).Parse(raw)
	require.NotNil(t, resp.Action)

	var names []string
	for _, e := range resp.Action.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)

	unknown := resp.Action.Entries[1].Skills[0]
	assert.Equal(t, KindUnrecognized, unknown.Kind)
	assert.Equal(t, "wave_hand", unknown.Name)
	assert.Equal(t, float64(2), unknown.Params["speed"])

	assert.Empty(t, resp.Action.Entries[2].Skills[0].Params)
}

func TestParse_Movements(t *testing.T) {
	raw := `{
		"Message": {"message_1": "Turning."},
		"Action": {"look": {"movements": {
			"head": {"move_joint": {"motor": "pan", "value": 30}},
			"arm":  {"move_joint": [{"motor": 3, "value": -12.5}, {"motor": "4"}, {"value": 1}]},
			"legs": {"dance": {}}
		}}}
	}`
	resp := NewParser(nil).Parse(raw)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "Turning.", resp.Message.Text)
	require.NotNil(t, resp.Action)
	require.Len(t, resp.Action.Entries, 1)

	assert.Equal(t, []MovementCommand{
		{Group: "head", Motor: "pan", Position: 30},
		{Group: "arm", Motor: "3", Position: -12.5},
	}, resp.Action.Entries[0].Movements)
}

func TestParse_Repair(t *testing.T) {
	p := NewParser(nil)

	t.Run("unterminated", func(t *testing.T) {
		resp := p.Parse(`{"Message":{"message_1":"hi"`)
		require.NotNil(t, resp.Message)
		assert.Equal(t, "hi", resp.Message.Text)
		assert.False(t, resp.Fallback)
	})

	t.Run("trailing comma", func(t *testing.T) {
		resp := p.Parse(`{"Message":{"message_1":"hi",},}`)
		require.NotNil(t, resp.Message)
		assert.Equal(t, "hi", resp.Message.Text)
	})

	t.Run("single quotes", func(t *testing.T) {
		resp := p.Parse(`{'Action':{'a1':{'skills':{'camera_enable':{}}}}}`)
		require.NotNil(t, resp.Action)
		require.Len(t, resp.Action.Entries, 1)
		assert.Equal(t, KindCameraEnable, resp.Action.Entries[0].Skills[0].Kind)
	})
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindCameraEnable, ParseKind("camera_enable"))
	assert.Equal(t, KindCameraDisable, ParseKind(" CAMERA_DISABLE "))
	assert.Equal(t, KindObjectDetection, ParseKind("object_detection"))
	assert.Equal(t, KindUnrecognized, ParseKind("fly"))
	assert.Equal(t, "object_detection", KindObjectDetection.String())
	assert.Equal(t, "unrecognized", Kind(99).String())
}

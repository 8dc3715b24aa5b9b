package markup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlowExecutionKey(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"hidden input", `<form><input type="hidden" name="_flowExecutionKey" value=" e1s1 "></form>`, "e1s1"},
		{"input by id", `<input id="_flowExecutionKey" value="e2s1">`, "e2s1"},
		{"link", `<a href="/plan?_flowId=x&amp;_flowExecutionKey=e3s2">Plan</a>`, "e3s2"},
		{"meta refresh", `<meta http-equiv="Refresh" content="0; URL=/plan?_flowExecutionKey=e4s1">`, "e4s1"},
		{"raw markup", `<script>go('/plan?_flowExecutionKey=e5s9')</script>`, "e5s9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseString(tt.html, nil)
			require.NoError(t, err)
			got, ok := FlowExecutionKey(doc)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}

	doc, err := ParseString(`<p>no flow here</p>`, nil)
	require.NoError(t, err)
	_, ok := FlowExecutionKey(doc)
	require.False(t, ok)
}

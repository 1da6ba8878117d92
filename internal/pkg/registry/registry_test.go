package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingModule struct {
	name     string
	priority int
	log      *[]string
}

func (m *recordingModule) Name() string  { return m.name }
func (m *recordingModule) Priority() int { return m.priority }
func (m *recordingModule) Init(*ModuleContext) error {
	*m.log = append(*m.log, "init:"+m.name)
	return nil
}
func (m *recordingModule) Shutdown(context.Context) {
	*m.log = append(*m.log, "shutdown:"+m.name)
}

func TestModulesRunInPriorityOrder(t *testing.T) {
	saved := moduleRegistry
	moduleRegistry = make(map[string]Module)
	t.Cleanup(func() { moduleRegistry = saved })

	var log []string
	Register(&recordingModule{name: "feed", priority: 10, log: &log})
	Register(&recordingModule{name: "health", priority: 0, log: &log})

	require.NoError(t, InitModules(&ModuleContext{}))
	ShutdownModules(context.Background())

	assert.Equal(t, []string{"init:health", "init:feed", "shutdown:feed", "shutdown:health"}, log)
}

package models

import (
	"fmt"
	"sync/atomic"
	"testing"

	"TrailSafe/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var modelDBSeq atomic.Int64

func newModelDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:model%d?mode=memory&cache=shared", modelDBSeq.Add(1))
	db, err := util.InitDatabase("sqlite", dsn, false)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func TestActiveContactsByPriority(t *testing.T) {
	profile := &SafetyProfile{
		Contacts: []EmergencyContact{
			{Name: "c", Priority: 3, Active: true},
			{Name: "a", Priority: 1, Active: true},
			{Name: "x", Priority: 0, Active: false},
			{Name: "b", Priority: 2, Active: true},
			{Name: "a2", Priority: 1, Active: true},
		},
	}

	got := profile.ActiveContactsByPriority()
	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	// 升序，同优先级保持原始顺序，inactive 排除
	assert.Equal(t, []string{"a", "a2", "b", "c"}, names)
}

func TestActiveContactsByPriorityEmpty(t *testing.T) {
	profile := &SafetyProfile{}
	assert.Empty(t, profile.ActiveContactsByPriority())
}

// 停用状态必须原样落库：布尔列带 default:true 时 gorm 会在 insert
// 时省略 false，把停用联系人写成启用
func TestInactiveFlagsSurviveInsert(t *testing.T) {
	db := newModelDB(t)

	profile := &SafetyProfile{
		UserID:  "traveler-1",
		Enabled: false,
		Contacts: []EmergencyContact{
			{Name: "On", Phone: "+15550001", Priority: 1, Active: true},
			{Name: "Off", Phone: "+15550002", Priority: 0, Active: false},
		},
	}
	require.NoError(t, CreateSafetyProfile(db, profile))

	stored, err := GetSafetyProfile(db, profile.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	byName := map[string]EmergencyContact{}
	for _, c := range stored.Contacts {
		byName[c.Name] = c
	}
	assert.True(t, byName["On"].Active)
	assert.False(t, byName["Off"].Active, "deactivated contact must stay deactivated")

	active := stored.ActiveContactsByPriority()
	require.Len(t, active, 1)
	assert.Equal(t, "On", active[0].Name)
}

func TestInactiveSessionSurvivesInsert(t *testing.T) {
	db := newModelDB(t)

	session := &MonitoringSession{ProfileID: "p-1", Active: false}
	require.NoError(t, CreateMonitoringSession(db, session))

	stored, err := GetMonitoringSession(db, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

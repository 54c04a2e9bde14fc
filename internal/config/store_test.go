package config

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/escalation-engine/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zap.NewNop())
}

func TestStore_ThresholdCRUD(t *testing.T) {
	s := newTestStore(t)

	threshold := &model.Threshold{
		Name:     "High CPU",
		Type:     model.ThresholdTypeCPUUsage,
		Operator: model.OperatorGreaterThan,
		Value:    90,
		IsActive: true,
	}
	require.NoError(t, s.AddThreshold(threshold))
	require.NotEmpty(t, threshold.ID, "id is generated when absent")
	require.False(t, threshold.CreatedAt.IsZero())

	got, err := s.GetThreshold(threshold.ID)
	require.NoError(t, err)
	require.Equal(t, "High CPU", got.Name)

	got.Value = 95
	require.NoError(t, s.UpdateThreshold(got))
	updated, err := s.GetThreshold(threshold.ID)
	require.NoError(t, err)
	require.Equal(t, float64(95), updated.Value)

	require.NoError(t, s.DeleteThreshold(threshold.ID))
	_, err = s.GetThreshold(threshold.ID)
	require.ErrorIs(t, err, ErrThresholdNotFound)
}

func TestStore_ThresholdValidation(t *testing.T) {
	s := newTestStore(t)

	require.ErrorIs(t, s.AddThreshold(&model.Threshold{}), ErrInvalidThreshold, "name is required")
	require.ErrorIs(t, s.AddThreshold(&model.Threshold{Name: "t", CooldownSeconds: -1}), ErrInvalidThreshold)
	require.ErrorIs(t, s.AddThreshold(&model.Threshold{Name: "t", TriggerRate: 1.5}), ErrInvalidThreshold)
	require.ErrorIs(t, s.AddThreshold(&model.Threshold{Name: "t", EscalationDelay: -5}), ErrInvalidThreshold)

	require.ErrorIs(t, s.UpdateThreshold(&model.Threshold{ID: "missing", Name: "t"}), ErrThresholdNotFound)
	require.ErrorIs(t, s.DeleteThreshold("missing"), ErrThresholdNotFound)
}

func TestStore_ListActiveThresholds(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddThreshold(&model.Threshold{ID: "b", Name: "B", IsActive: true}))
	require.NoError(t, s.AddThreshold(&model.Threshold{ID: "a", Name: "A", IsActive: true}))
	require.NoError(t, s.AddThreshold(&model.Threshold{ID: "c", Name: "C"}))

	active := s.ListActiveThresholds()
	require.Len(t, active, 2)
	require.Equal(t, "a", active[0].ID, "sorted by id")
	require.Equal(t, "b", active[1].ID)
}

func TestStore_DeleteHooksFire(t *testing.T) {
	s := newTestStore(t)

	var deleted []string
	s.OnThresholdDeleted(func(id string) { deleted = append(deleted, id) })
	s.OnThresholdDeleted(func(id string) { deleted = append(deleted, id+"-again") })

	require.NoError(t, s.AddThreshold(&model.Threshold{ID: "t-1", Name: "t"}))
	require.NoError(t, s.DeleteThreshold("t-1"))

	require.Equal(t, []string{"t-1", "t-1-again"}, deleted)
}

func TestStore_ChainCRUDAndOrdering(t *testing.T) {
	s := newTestStore(t)

	require.Error(t, s.AddChain(&model.EscalationChain{}), "name is required")

	require.NoError(t, s.AddChain(&model.EscalationChain{ID: "low", Name: "Low", Priority: 1}))
	require.NoError(t, s.AddChain(&model.EscalationChain{ID: "high", Name: "High", Priority: 9}))
	require.NoError(t, s.AddChain(&model.EscalationChain{ID: "also-high", Name: "AlsoHigh", Priority: 9}))

	chains := s.ListChains()
	require.Len(t, chains, 3)
	require.Equal(t, "also-high", chains[0].ID, "priority desc, then id")
	require.Equal(t, "high", chains[1].ID)
	require.Equal(t, "low", chains[2].ID)

	chain, ok := s.Chain("low")
	require.True(t, ok)
	chain.Priority = 20
	require.NoError(t, s.UpdateChain(chain))

	require.NoError(t, s.DeleteChain("low"))
	_, ok = s.Chain("low")
	require.False(t, ok)
	require.ErrorIs(t, s.DeleteChain("low"), ErrChainNotFound)
}

func TestStore_TechnicianDirectory(t *testing.T) {
	s := newTestStore(t)

	require.Error(t, s.AddTechnician(&model.TechnicianProfile{}), "user id is required")

	require.NoError(t, s.AddTechnician(&model.TechnicianProfile{
		UserID:             "tech-1",
		GroupIDs:           []string{"group-net"},
		CurrentTicketCount: 3,
	}))
	require.NoError(t, s.AddTechnician(&model.TechnicianProfile{
		UserID:   "tech-2",
		GroupIDs: []string{"group-db"},
	}))

	p, ok := s.Profile("tech-1")
	require.True(t, ok)
	require.Equal(t, "tech-1", p.UserID)

	require.Len(t, s.Profiles(), 2)

	members := s.GroupMembers("group-net")
	require.Len(t, members, 1)
	require.Equal(t, "tech-1", members[0].UserID)
}

func TestStore_TicketCountPrefersLiveValue(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddTechnician(&model.TechnicianProfile{
		UserID:             "tech-1",
		CurrentTicketCount: 3,
	}))

	require.Equal(t, 3, s.TicketCount("tech-1"), "profile snapshot before live updates")

	s.SetTicketCount("tech-1", 7)
	require.Equal(t, 7, s.TicketCount("tech-1"))

	require.Equal(t, 0, s.TicketCount("unknown"))
}

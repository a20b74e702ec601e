package grouphome_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carehaven/go-mar/internal/domain/grouphome"
	"github.com/carehaven/go-mar/internal/infrastructure/memory"
)

func TestAdmitAndDischarge(t *testing.T) {
	ctx := context.Background()
	svc := grouphome.NewService(memory.NewGroupHomeStore(), nil)

	home, err := svc.CreateHome(ctx, "Maple House", "12 Maple St", 2)
	require.NoError(t, err)

	_, err = svc.Admit(ctx, home.ID, "client-1")
	require.NoError(t, err)
	_, err = svc.Admit(ctx, home.ID, "client-1")
	assert.ErrorIs(t, err, grouphome.ErrAlreadyResident)

	_, err = svc.Admit(ctx, home.ID, "client-2")
	require.NoError(t, err)
	_, err = svc.Admit(ctx, home.ID, "client-3")
	assert.ErrorIs(t, err, grouphome.ErrAtCapacity)

	occ, err := svc.Occupancy(ctx, home.ID)
	require.NoError(t, err)
	assert.Equal(t, grouphome.Occupancy{Capacity: 2, Occupied: 2, Available: 0}, occ)

	updated, err := svc.Discharge(ctx, home.ID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"client-2"}, updated.Residents)

	_, err = svc.Discharge(ctx, home.ID, "client-1")
	assert.ErrorIs(t, err, grouphome.ErrNotResident)

	_, err = svc.Admit(ctx, "missing", "client-1")
	assert.ErrorIs(t, err, grouphome.ErrNotFound)
}

func TestCreateHomeValidation(t *testing.T) {
	svc := grouphome.NewService(memory.NewGroupHomeStore(), nil)

	_, err := svc.CreateHome(context.Background(), "", "addr", 4)
	assert.ErrorIs(t, err, grouphome.ErrInvalid)
	_, err = svc.CreateHome(context.Background(), "Oak House", "addr", 0)
	assert.ErrorIs(t, err, grouphome.ErrInvalid)
}

func TestInventory(t *testing.T) {
	ctx := context.Background()
	svc := grouphome.NewService(memory.NewGroupHomeStore(), nil)

	home, err := svc.CreateHome(ctx, "Maple House", "12 Maple St", 6)
	require.NoError(t, err)

	milk, err := svc.AddItem(ctx, home.ID, "Milk", "dairy", 4, "gallon", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, home.ID, "Rice", "pantry", 10, "lb", 3)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "missing", "Eggs", "dairy", 12, "each", 6)
	assert.ErrorIs(t, err, grouphome.ErrNotFound)

	item, err := svc.AdjustItem(ctx, home.ID, milk.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)

	_, err = svc.AdjustItem(ctx, home.ID, milk.ID, -3)
	assert.ErrorIs(t, err, grouphome.ErrInsufficientStock)

	_, err = svc.AdjustItem(ctx, home.ID, "missing", 1)
	assert.ErrorIs(t, err, grouphome.ErrItemNotFound)

	reorder, err := svc.ReorderList(ctx, home.ID)
	require.NoError(t, err)
	require.Len(t, reorder, 1)
	assert.Equal(t, "Milk", reorder[0].Name)
	assert.Equal(t, 2, reorder[0].Quantity, "failed adjustment leaves stock unchanged")
}

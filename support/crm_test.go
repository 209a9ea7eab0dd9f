package support

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCRM() *CRM {
	return NewCRM(func(o *CRMOptions) {
		o.Now = func() time.Time { return fixedNow }
	})
}

func TestCRM_VerifyIdentity(t *testing.T) {
	crm := newTestCRM()

	cust, ok := crm.VerifyIdentity("  John.Smith@example.com ", "john smith")
	require.True(t, ok)
	assert.Equal(t, "CUST001", cust.ID)

	_, ok = crm.VerifyIdentity("john.smith@example.com", "Maria Garcia")
	assert.False(t, ok)

	_, ok = crm.VerifyIdentity("", "")
	assert.False(t, ok)
}

func TestCRM_Purchases(t *testing.T) {
	crm := newTestCRM()

	purchases := crm.Purchases("CUST001")
	require.Len(t, purchases, 2)
	assert.Equal(t, "SN-UB14-0001", purchases[0].Serial, "newest first")

	assert.Empty(t, crm.Purchases("CUST404"))
}

func TestCRM_Warranty(t *testing.T) {
	crm := newTestCRM()

	w, err := crm.Warranty("CUST001", "SN-UB14-0001")
	require.NoError(t, err)
	assert.True(t, w.Covered)
	assert.Positive(t, w.DaysLeft)

	w, err = crm.Warranty("CUST001", "SN-NA-0042")
	require.NoError(t, err)
	assert.False(t, w.Covered)
	assert.Zero(t, w.DaysLeft)

	_, err = crm.Warranty("CUST002", "SN-UB14-0001")
	assert.True(t, errors.Is(err, ErrNotFound), "products of other customers are invisible")
}

func TestCRM_ServiceRecordLifecycle(t *testing.T) {
	crm := newTestCRM()

	_, err := crm.CreateServiceRecord("CUST001", "SN-SW3-0310", "broken strap")
	assert.True(t, errors.Is(err, ErrNotFound))

	first, err := crm.CreateServiceRecord("CUST001", "SN-UB14-0001", "screen flickers")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, first.Status)

	second, err := crm.CreateServiceRecord("CUST001", "SN-NA-0042", "left ear silent")
	require.NoError(t, err)

	records := crm.ServiceRecords("CUST001")
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)

	updated, err := crm.UpdateServiceRecord("CUST001", first.ID, "", StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, "screen flickers", updated.Issue)
	assert.Equal(t, StatusInProgress, updated.Status)

	_, err = crm.UpdateServiceRecord("CUST001", first.ID, "", "lost")
	assert.Error(t, err)

	_, err = crm.UpdateServiceRecord("CUST002", first.ID, "mine now", "")
	assert.True(t, errors.Is(err, ErrNotOwner))

	assert.True(t, errors.Is(crm.DeleteServiceRecord("CUST002", first.ID), ErrNotOwner))
	require.NoError(t, crm.DeleteServiceRecord("CUST001", first.ID))
	assert.True(t, errors.Is(crm.DeleteServiceRecord("CUST001", first.ID), ErrNotFound))

	assert.Len(t, crm.ServiceRecords("CUST001"), 1)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/internal/certification/models"
	dErrors "certflow/pkg/domain-errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CERTFLOW_CONFIG", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRequirementsCommand(t *testing.T) {
	t.Run("senior legal representative", func(t *testing.T) {
		out, err := execute(t, "requirements", "--category", "legal_representative", "--age", "70", "--required-only")
		require.NoError(t, err)

		var set models.RequirementSet
		require.NoError(t, json.Unmarshal([]byte(out), &set))
		assert.True(t, set.IsRequired(models.FieldCompanyLegalName))
		assert.True(t, set.IsRequired(models.SlotField(models.SlotAuthorizationVideo)))
		for _, r := range set {
			assert.True(t, r.Required)
		}
	})

	t.Run("update mode with stored files", func(t *testing.T) {
		out, err := execute(t, "requirements", "--mode", "update", "--persisted", "id_front,id_back,selfie")
		require.NoError(t, err)

		var set models.RequirementSet
		require.NoError(t, json.Unmarshal([]byte(out), &set))
		assert.False(t, set.IsRequired(models.SlotField(models.SlotSelfie)))
		assert.True(t, set.IsRequired(models.FieldEmail))
	})

	t.Run("unknown slot", func(t *testing.T) {
		_, err := execute(t, "requirements", "--uploads", "passport")
		assert.ErrorContains(t, err, "unknown file slot")
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := execute(t, "requirements", "--category", "robot")
		assert.Error(t, err)
	})
}

func TestShowCommandWithEmptyStore(t *testing.T) {
	_, err := execute(t, "show", "CPN-000001")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestStatusCommandRejectsBadID(t *testing.T) {
	_, err := execute(t, "status", "nope")
	assert.ErrorContains(t, err, "invalid record id")
}

func TestRefreshCommandOnEmptyStore(t *testing.T) {
	out, err := execute(t, "refresh", "--limit", "5")
	require.NoError(t, err)
	assert.JSONEq(t, `{"checked":0,"transitioned":0,"unchanged":0,"failed":0}`, out)
}

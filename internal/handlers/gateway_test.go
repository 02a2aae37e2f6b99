package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-jose/go-jose/v3"
	"github.com/hercules-io/hercules/internal/models"
)

func (suite *HandlerTestSuite) TestRedeemActivationCode() {
	require := suite.Require()
	assert := suite.Assert()
	ac := suite.issueCode("HERC-AAAA-BBBB-CCCC")

	reqBody, err := json.Marshal(models.RedeemRequest{
		Code:      "herc-aaaa-bbbb-cccc",
		MachineID: "m-123",
		GatewayFacts: models.GatewayFacts{
			Hostname: "edge-1",
			Os:       "linux",
		},
	})
	require.NoError(err)

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/redeem", "/redeem",
		suite.api.RedeemActivationCode, bytes.NewBuffer(reqBody),
	)
	require.NoError(err)
	body, err := io.ReadAll(res.Body)
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code, "HTTP error: %s", string(body))

	var redeemed models.RedeemResponse
	require.NoError(json.Unmarshal(body, &redeemed))
	assert.NotEmpty(redeemed.Token)
	assert.Equal("m-123", redeemed.Gateway.MachineID)
	assert.Equal("edge-1", redeemed.Gateway.Hostname)
	assert.Equal(TestUserID, redeemed.Gateway.OwnerUserID)

	code, err := suite.api.service.LookupCode(context.Background(), ac.Code)
	require.NoError(err)
	assert.Equal(models.CodeStatusRedeemed, code.Status)

	// Another machine cannot take the code over.
	reqBody, err = json.Marshal(models.RedeemRequest{
		Code:      ac.Code,
		MachineID: "m-456",
	})
	require.NoError(err)
	_, res, err = suite.ServeRequest(
		http.MethodPost, "/redeem", "/redeem",
		suite.api.RedeemActivationCode, bytes.NewBuffer(reqBody),
	)
	require.NoError(err)
	require.Equal(http.StatusForbidden, res.Code)
	var notAllowed models.NotAllowedError
	require.NoError(json.NewDecoder(res.Body).Decode(&notAllowed))
	assert.Equal("already_redeemed", notAllowed.Reason)
}

func (suite *HandlerTestSuite) TestRedeemActivationCodeErrors() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/redeem", "/redeem",
		suite.api.RedeemActivationCode, bytes.NewBufferString("{not json"),
	)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
	var bodyErr models.ValidationError
	require.NoError(json.NewDecoder(res.Body).Decode(&bodyErr))
	suite.Assert().Equal("body", bodyErr.Field)
	var audited int64
	require.NoError(suite.api.db.Model(&models.GatewayAuditLog{}).
		Where("action = ? AND success = ?", models.AuditActionRedeem, false).
		Count(&audited).Error)
	require.Equal(int64(1), audited)

	_, res, err = suite.ServeRequest(
		http.MethodPost, "/redeem", "/redeem",
		suite.api.RedeemActivationCode, bytes.NewBufferString(`{"code":"HERC-AAAA-BBBB-CCCC"}`),
	)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
	var verr models.ValidationError
	require.NoError(json.NewDecoder(res.Body).Decode(&verr))
	suite.Assert().Equal("machine_id", verr.Field)

	_, res, err = suite.ServeRequest(
		http.MethodPost, "/redeem", "/redeem",
		suite.api.RedeemActivationCode, bytes.NewBufferString(`{"code":"HERC-ZZZZ-ZZZZ-ZZZZ","machine_id":"m-1"}`),
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestSyncGateway() {
	require := suite.Require()
	assert := suite.Assert()
	gw, token := suite.activate("m-123")

	cmd, err := suite.api.service.Enqueue(context.Background(), gw.ID, models.AddGatewayCommand{
		CommandType: models.CommandTypeVacuumTable,
		CommandData: []byte(`{"table_name":"readings"}`),
	})
	require.NoError(err)

	reqBody, err := json.Marshal(models.SyncRequest{
		MachineID: "m-123",
		TableStatusReports: []models.TableStatusReport{{
			TableName: "readings",
			RowCount:  42,
		}},
	})
	require.NoError(err)

	_, res, err := suite.ServeRequestWithToken(
		http.MethodPost, "/sync", "/sync", token.Token,
		suite.api.SyncGateway, bytes.NewBuffer(reqBody),
	)
	require.NoError(err)
	body, err := io.ReadAll(res.Body)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, "HTTP error: %s", string(body))

	var synced models.SyncResponse
	require.NoError(json.Unmarshal(body, &synced))
	assert.Equal(gw.ID, synced.GatewayID)
	require.Len(synced.Commands, 1)
	assert.Equal(cmd.ID, synced.Commands[0].ID)
	assert.Equal(models.CommandStatusSent, synced.Commands[0].Status)
	require.NotNil(synced.ActiveSchema)
	assert.Equal(0, synced.ActiveSchema.Version)
	assert.Equal(models.SchemaModeSingleTable, synced.ActiveSchema.Mode)

	statuses, err := suite.api.service.TableStatus(context.Background(), gw.ID)
	require.NoError(err)
	require.Len(statuses, 1)
	assert.Equal(int64(42), statuses[0].RowCount)
}

func (suite *HandlerTestSuite) TestSyncGatewayRejectsBadCredentials() {
	require := suite.Require()
	suite.activate("m-123")
	reqBody := `{"machine_id":"m-123"}`

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/sync", "/sync",
		suite.api.SyncGateway, bytes.NewBufferString(reqBody),
	)
	require.NoError(err)
	require.Equal(http.StatusUnauthorized, res.Code)

	_, res, err = suite.ServeRequestWithToken(
		http.MethodPost, "/sync", "/sync", "not-a-token",
		suite.api.SyncGateway, bytes.NewBufferString(reqBody),
	)
	require.NoError(err)
	require.Equal(http.StatusUnauthorized, res.Code)
}

func (suite *HandlerTestSuite) TestSyncGatewayMachineMismatch() {
	require := suite.Require()
	_, token := suite.activate("m-123")

	_, res, err := suite.ServeRequestWithToken(
		http.MethodPost, "/sync", "/sync", token.Token,
		suite.api.SyncGateway, bytes.NewBufferString(`{"machine_id":"m-999"}`),
	)
	require.NoError(err)
	require.Equal(http.StatusForbidden, res.Code)
}

func (suite *HandlerTestSuite) TestRefreshGatewayToken() {
	require := suite.Require()
	gw, token := suite.activate("m-123")

	_, res, err := suite.ServeRequestWithToken(
		http.MethodPost, "/token/refresh", "/token/refresh", token.Token,
		suite.api.RefreshGatewayToken, nil,
	)
	require.NoError(err)
	body, err := io.ReadAll(res.Body)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, "HTTP error: %s", string(body))

	var refreshed models.IssuedToken
	require.NoError(json.Unmarshal(body, &refreshed))
	require.NotEqual(token.Token, refreshed.Token)

	_, authenticated, err := suite.api.service.Authenticate(context.Background(), refreshed.Token)
	require.NoError(err)
	suite.Assert().Equal(gw.ID, authenticated.ID)

	// The presented credential stays valid until it expires.
	_, _, err = suite.api.service.Authenticate(context.Background(), token.Token)
	require.NoError(err)

	_, res, err = suite.ServeRequest(
		http.MethodPost, "/token/refresh", "/token/refresh",
		suite.api.RefreshGatewayToken, nil,
	)
	require.NoError(err)
	suite.Assert().Equal(http.StatusUnauthorized, res.Code)
}

func (suite *HandlerTestSuite) TestCommandLifecycle() {
	require := suite.Require()
	assert := suite.Assert()
	gw, token := suite.activate("m-123")
	ctx := context.Background()

	cmd, err := suite.api.service.Enqueue(ctx, gw.ID, models.AddGatewayCommand{
		CommandType: models.CommandTypeCreateTable,
	})
	require.NoError(err)
	_, err = suite.api.service.DrainDue(ctx, gw.ID, 10)
	require.NoError(err)

	_, res, err := suite.ServeRequestWithToken(
		http.MethodPost, "/command/:id/ack", fmt.Sprintf("/command/%s/ack", cmd.ID), token.Token,
		suite.api.AcknowledgeCommand, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	_, res, err = suite.ServeRequestWithToken(
		http.MethodPost, "/command/:id/complete", fmt.Sprintf("/command/%s/complete", cmd.ID), token.Token,
		suite.api.CompleteCommand, bytes.NewBufferString(`{"result":{"rows":10}}`),
	)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	stored, err := suite.api.service.GetCommand(ctx, gw.ID, cmd.ID)
	require.NoError(err)
	assert.Equal(models.CommandStatusCompleted, stored.Status)
	assert.JSONEq(`{"rows":10}`, string(stored.Result))

	// Reports on a finished command are ignored.
	_, res, err = suite.ServeRequestWithToken(
		http.MethodPost, "/command/:id/fail", fmt.Sprintf("/command/%s/fail", cmd.ID), token.Token,
		suite.api.FailCommand, nil,
	)
	require.NoError(err)
	assert.Equal(http.StatusNoContent, res.Code)

	stored, err = suite.api.service.GetCommand(ctx, gw.ID, cmd.ID)
	require.NoError(err)
	assert.Equal(models.CommandStatusCompleted, stored.Status)
}

func (suite *HandlerTestSuite) TestFailCommand() {
	require := suite.Require()
	gw, token := suite.activate("m-123")
	ctx := context.Background()

	cmd, err := suite.api.service.Enqueue(ctx, gw.ID, models.AddGatewayCommand{
		CommandType: models.CommandTypeDeleteTable,
	})
	require.NoError(err)
	_, err = suite.api.service.DrainDue(ctx, gw.ID, 10)
	require.NoError(err)

	_, res, err := suite.ServeRequestWithToken(
		http.MethodPost, "/command/:id/fail", fmt.Sprintf("/command/%s/fail", cmd.ID), token.Token,
		suite.api.FailCommand, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	stored, err := suite.api.service.GetCommand(ctx, gw.ID, cmd.ID)
	require.NoError(err)
	suite.Assert().Equal(models.CommandStatusFailed, stored.Status)
	suite.Assert().Equal("failed", stored.ErrorMessage)
}

func (suite *HandlerTestSuite) TestCommandOfAnotherGateway() {
	require := suite.Require()
	owner, _ := suite.activate("m-123")
	_, otherToken := suite.activate("m-456")
	ctx := context.Background()

	cmd, err := suite.api.service.Enqueue(ctx, owner.ID, models.AddGatewayCommand{
		CommandType: models.CommandTypeCreateTable,
	})
	require.NoError(err)

	_, res, err := suite.ServeRequestWithToken(
		http.MethodPost, "/command/:id/ack", fmt.Sprintf("/command/%s/ack", cmd.ID), otherToken.Token,
		suite.api.AcknowledgeCommand, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)

	_, res, err = suite.ServeRequestWithToken(
		http.MethodPost, "/command/:id/ack", "/command/not-a-uuid/ack", otherToken.Token,
		suite.api.AcknowledgeCommand, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
}

func (suite *HandlerTestSuite) TestCerts() {
	require := suite.Require()
	_, res, err := suite.ServeRequest(
		http.MethodGet, "/certs", "/certs",
		suite.api.Certs, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	var jwks jose.JSONWebKeySet
	require.NoError(json.NewDecoder(res.Body).Decode(&jwks))
	require.Len(jwks.Keys, 1)
	suite.Assert().Equal("RS256", jwks.Keys[0].Algorithm)
	suite.Assert().True(jwks.Keys[0].Valid())
}

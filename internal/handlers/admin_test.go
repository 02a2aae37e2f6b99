package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hercules-io/hercules/internal/gateway"
	"github.com/hercules-io/hercules/internal/models"
)

func (suite *HandlerTestSuite) TestCreateActivationCode() {
	require := suite.Require()
	assert := suite.Assert()

	reqBody, err := json.Marshal(models.AddActivationCode{
		OwnerUserID: TestUserID,
		TTL:         models.Duration(gateway.DefaultConfig().CodeTTL / 2),
		Notes:       "line 3",
	})
	require.NoError(err)
	_, res, err := suite.ServeRequest(
		http.MethodPost, "/gateway-codes", "/gateway-codes",
		suite.api.CreateActivationCode, bytes.NewBuffer(reqBody),
	)
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code, "HTTP error: %s", res.Body.String())

	var created models.ActivationCode
	require.NoError(json.NewDecoder(res.Body).Decode(&created))
	assert.Regexp(`^HERC-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`, created.Code)
	assert.Equal(models.CodeStatusIssued, created.Status)
	assert.Equal("line 3", created.Notes)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/gateway-codes/:code", "/gateway-codes/"+created.Code,
		suite.api.GetActivationCode, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(
		http.MethodPost, "/gateway-codes", "/gateway-codes",
		suite.api.CreateActivationCode, bytes.NewBufferString(`{"ttl":"30d"}`),
	)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
	var verr models.ValidationError
	require.NoError(json.NewDecoder(res.Body).Decode(&verr))
	assert.Equal("owner_user_id", verr.Field)
}

func (suite *HandlerTestSuite) TestRevokeActivationCode() {
	require := suite.Require()
	ac := suite.issueCode("")

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/gateway-codes/:code/revoke", fmt.Sprintf("/gateway-codes/%s/revoke", ac.Code),
		suite.api.RevokeActivationCode, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	reqBody, err := json.Marshal(models.RedeemRequest{Code: ac.Code, MachineID: "m-123"})
	require.NoError(err)
	_, res, err = suite.ServeRequest(
		http.MethodPost, "/redeem", "/redeem",
		suite.api.RedeemActivationCode, bytes.NewBuffer(reqBody),
	)
	require.NoError(err)
	require.Equal(http.StatusGone, res.Code)
}

func (suite *HandlerTestSuite) TestGetActivationCodeNotFound() {
	_, res, err := suite.ServeRequest(
		http.MethodGet, "/gateway-codes/:code", "/gateway-codes/HERC-0000-0000-0000",
		suite.api.GetActivationCode, nil,
	)
	suite.Require().NoError(err)
	suite.Require().Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestResetActivationCode() {
	require := suite.Require()
	assert := suite.Assert()
	gw, _ := suite.activate("m-123")

	code, err := suite.api.service.LookupCode(context.Background(), suite.codeOf(gw))
	require.NoError(err)

	reqBody, err := json.Marshal(models.ResetActivationCode{Code: code.Code, Reason: "hardware replaced"})
	require.NoError(err)
	_, res, err := suite.ServeRequest(
		http.MethodPost, "/gateway-codes/reset", "/gateway-codes/reset",
		suite.api.ResetActivationCode, bytes.NewBuffer(reqBody),
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, "HTTP error: %s", res.Body.String())

	var reset models.ActivationCode
	require.NoError(json.NewDecoder(res.Body).Decode(&reset))
	assert.Equal(models.CodeStatusIssued, reset.Status)
	assert.Nil(reset.MachineID)

	var audits []models.GatewayAuditLog
	require.NoError(suite.api.db.Where("action = ?", models.AuditActionCodeReset).Find(&audits).Error)
	require.Len(audits, 1)
	assert.True(audits[0].Success)
}

// codeOf returns the activation code a gateway was redeemed with.
func (suite *HandlerTestSuite) codeOf(gw *models.Gateway) string {
	var ac models.ActivationCode
	suite.Require().NoError(suite.api.db.Where("id = ?", gw.ActivationCodeID).First(&ac).Error)
	return ac.Code
}

func (suite *HandlerTestSuite) TestListGateways() {
	require := suite.Require()
	assert := suite.Assert()
	suite.activate("m-1")
	suite.activate("m-2")
	suite.activate("m-3")

	query := url.Values{}
	query.Set("range", "[0,1]")
	query.Set("sort", `["machine_id","ASC"]`)
	_, res, err := suite.ServeRequest(
		http.MethodGet, "/gateways", "/gateways?"+query.Encode(),
		suite.api.ListGateways, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	assert.Equal("3", res.Header().Get(TotalCountHeader))

	var gateways []models.Gateway
	require.NoError(json.NewDecoder(res.Body).Decode(&gateways))
	require.Len(gateways, 2)
	assert.Equal("m-1", gateways[0].MachineID)
	assert.Equal("m-2", gateways[1].MachineID)
	assert.False(gateways[0].Online)

	query = url.Values{}
	query.Set("filter", `{"machine_id":"m-3"}`)
	_, res, err = suite.ServeRequest(
		http.MethodGet, "/gateways", "/gateways?"+query.Encode(),
		suite.api.ListGateways, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	require.NoError(json.NewDecoder(res.Body).Decode(&gateways))
	require.Len(gateways, 1)
	assert.Equal("m-3", gateways[0].MachineID)
}

func (suite *HandlerTestSuite) TestRevokeGateway() {
	require := suite.Require()
	gw, token := suite.activate("m-123")

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/gateways/:id/revoke", fmt.Sprintf("/gateways/%s/revoke", gw.ID),
		suite.api.RevokeGateway, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNoContent, res.Code)

	_, res, err = suite.ServeRequestWithToken(
		http.MethodPost, "/sync", "/sync", token.Token,
		suite.api.SyncGateway, bytes.NewBufferString(`{"machine_id":"m-123"}`),
	)
	require.NoError(err)
	require.Equal(http.StatusUnauthorized, res.Code)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/gateways/:id", fmt.Sprintf("/gateways/%s", gw.ID),
		suite.api.GetGateway, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	var stored models.Gateway
	require.NoError(json.NewDecoder(res.Body).Decode(&stored))
	suite.Assert().Equal(models.GatewayStatusDisabled, stored.Status)
}

func (suite *HandlerTestSuite) TestGetGatewayBadID() {
	_, res, err := suite.ServeRequest(
		http.MethodGet, "/gateways/:id", "/gateways/not-a-uuid",
		suite.api.GetGateway, nil,
	)
	suite.Require().NoError(err)
	suite.Require().Equal(http.StatusBadRequest, res.Code)
}

func (suite *HandlerTestSuite) TestCreateGatewayCommand() {
	require := suite.Require()
	assert := suite.Assert()
	gw, _ := suite.activate("m-123")

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/gateways/:id/commands", fmt.Sprintf("/gateways/%s/commands", gw.ID),
		suite.api.CreateGatewayCommand,
		bytes.NewBufferString(`{"command_type":"cleanup_table","command_data":{"table_name":"readings"},"priority":1}`),
	)
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code, "HTTP error: %s", res.Body.String())
	var cmd models.GatewayCommand
	require.NoError(json.NewDecoder(res.Body).Decode(&cmd))
	assert.Equal(models.CommandStatusPending, cmd.Status)
	assert.Equal(1, cmd.Priority)

	_, res, err = suite.ServeRequest(
		http.MethodPost, "/gateways/:id/commands", fmt.Sprintf("/gateways/%s/commands", gw.ID),
		suite.api.CreateGatewayCommand, bytes.NewBufferString(`{"command_type":"reboot"}`),
	)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/gateways/:id/commands", fmt.Sprintf("/gateways/%s/commands", gw.ID),
		suite.api.ListGatewayCommands, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	var commands []models.GatewayCommand
	require.NoError(json.NewDecoder(res.Body).Decode(&commands))
	require.Len(commands, 1)
	assert.Equal(cmd.ID, commands[0].ID)
}

func (suite *HandlerTestSuite) TestActivateSchema() {
	require := suite.Require()
	assert := suite.Assert()

	body := fmt.Sprintf(`{"user_id":%q,"mode":"multi_table","tables":[{"table_name":"readings","table_type":"general"}]}`, TestUserID)
	_, res, err := suite.ServeRequest(
		http.MethodPost, "/schemas", "/schemas",
		suite.api.ActivateSchema, bytes.NewBufferString(body),
	)
	require.NoError(err)
	require.Equal(http.StatusCreated, res.Code, "HTTP error: %s", res.Body.String())
	var schema models.GatewaySchema
	require.NoError(json.NewDecoder(res.Body).Decode(&schema))
	assert.Equal(1, schema.Version)
	assert.True(schema.IsActive)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/schemas/active", "/schemas/active?user_id="+TestUserID,
		suite.api.GetActiveSchema, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	var active models.GatewaySchema
	require.NoError(json.NewDecoder(res.Body).Decode(&active))
	assert.Equal(schema.ID, active.ID)
	require.Len(active.Tables, 1)
	assert.Equal("readings", active.Tables[0].TableName)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/schemas", "/schemas",
		suite.api.ListSchemas, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
}

func (suite *HandlerTestSuite) TestAuditAndDebugLogs() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/redeem", "/redeem",
		suite.api.RedeemActivationCode, bytes.NewBufferString(`{"code":"HERC-0000-0000-0000","machine_id":"m-1"}`),
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/audit-logs", "/audit-logs",
		suite.api.ListAuditLogs, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	var audits []models.GatewayAuditLog
	require.NoError(json.NewDecoder(res.Body).Decode(&audits))
	require.Len(audits, 1)
	suite.Assert().Equal(models.AuditActionRedeem, audits[0].Action)
	suite.Assert().False(audits[0].Success)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/debug-logs", "/debug-logs",
		suite.api.ListDebugLogs, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
}

func (suite *HandlerTestSuite) TestDebugLogsDisabled() {
	suite.T().Setenv("HERCAPI_FFLAG_DEBUG_CAPTURE", "false")
	_, res, err := suite.ServeRequest(
		http.MethodGet, "/debug-logs", "/debug-logs",
		suite.api.ListDebugLogs, nil,
	)
	suite.Require().NoError(err)
	suite.Require().Equal(http.StatusMethodNotAllowed, res.Code)
}

func (suite *HandlerTestSuite) TestGarbageCollect() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(
		http.MethodPost, "/gc", "/gc?retention=7d",
		suite.api.GarbageCollect, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code, "HTTP error: %s", res.Body.String())
	var purged map[string]int64
	require.NoError(json.NewDecoder(res.Body).Decode(&purged))

	_, res, err = suite.ServeRequest(
		http.MethodPost, "/gc", "/gc?retention=forever",
		suite.api.GarbageCollect, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusBadRequest, res.Code)
}

func (suite *HandlerTestSuite) TestFeatureFlags() {
	require := suite.Require()

	_, res, err := suite.ServeRequest(
		http.MethodGet, "/fflags", "/fflags",
		suite.api.ListFeatureFlags, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)
	var flags map[string]bool
	require.NoError(json.NewDecoder(res.Body).Decode(&flags))
	suite.Assert().Contains(flags, gateway.FlagLongPoll)
	suite.Assert().Contains(flags, gateway.FlagDebugCapture)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/fflags/:name", "/fflags/"+gateway.FlagLongPoll,
		suite.api.GetFeatureFlag, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(
		http.MethodGet, "/fflags/:name", "/fflags/teleport",
		suite.api.GetFeatureFlag, nil,
	)
	require.NoError(err)
	require.Equal(http.StatusNotFound, res.Code)
}

func (suite *HandlerTestSuite) TestHealth() {
	_, res, err := suite.ServeRequest(http.MethodGet, "/ready", "/ready", suite.api.Ready, nil)
	suite.Require().NoError(err)
	suite.Require().Equal(http.StatusOK, res.Code)

	_, res, err = suite.ServeRequest(http.MethodGet, "/live", "/live", suite.api.Live, nil)
	suite.Require().NoError(err)
	suite.Require().Equal(http.StatusOK, res.Code)
}

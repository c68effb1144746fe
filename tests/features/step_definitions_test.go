package features

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/eval-hub/model-arena/cmd/model_arena/server"
	"github.com/eval-hub/model-arena/internal/aggregator"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/constants"
	"github.com/eval-hub/model-arena/internal/logging"
	"github.com/eval-hub/model-arena/internal/participants"
	"github.com/eval-hub/model-arena/internal/runs"
	"github.com/eval-hub/model-arena/internal/scoring"
	"github.com/eval-hub/model-arena/internal/storage"
	"github.com/eval-hub/model-arena/internal/validation"

	"github.com/PaesslerAG/jsonpath"
	"github.com/cucumber/godog"
)

var (
	// testConfig to be used throughout all the test suites
	// for the global configuration
	api *apiFeature
)

type apiFeature struct {
	baseURL    *url.URL
	server     *server.Server
	httpServer *http.Server
	manager    *runs.Manager
	client     *http.Client
}

// this is used for a scenario to ensure that scenarios do not overwrite
// data from other scenarios...
type scenarioConfig struct {
	scenarioName string
	apiFeature   *apiFeature
	response     *http.Response
	body         []byte

	lastId string

	// the messages of the last event stream that was read
	streamIDs   []uint64
	streamKinds []string

	assets map[string][]string
}

func logDebug(format string, a ...any) {
	fmt.Printf(format, a...)
}

func checkBaseURL(uri *url.URL, from string) {
	if uri == nil {
		panic("Invalid baseURL: nil from " + from)
	}
	if uri.String() == "" {
		panic("Empty baseURL from  " + from)
	}
}

func createApiFeature() (*apiFeature, error) {
	client := &http.Client{
		Timeout: 15 * time.Second,
	}

	if serverURL := os.Getenv("SERVER_URL"); serverURL != "" {
		uri, err := url.Parse(serverURL)
		if err != nil {
			return nil, fmt.Errorf("Invalid SERVER_URL: %v", err)
		}
		checkBaseURL(uri, serverURL)
		return &apiFeature{client: client, baseURL: uri}, nil
	}

	port := 8080
	if sport := os.Getenv("PORT"); sport != "" {
		if eport, err := strconv.Atoi(sport); err != nil {
			logDebug("Invalid PORT: %v\n", err.Error())
		} else {
			port = eport
		}
	}

	uri := fmt.Sprintf("http://localhost:%d", port)
	baseURL, err := url.Parse(uri)
	if err != nil {
		panic(fmt.Errorf("Invalid baseURL: %v", err))
	}
	checkBaseURL(baseURL, uri)

	api := &apiFeature{client: client, baseURL: baseURL}
	if err := api.startLocalServer(port); err != nil {
		return nil, err
	}
	return api, nil
}

// startLocalServer wires the service the way main does, in local mode so that every
// participant is scripted and the lexical scorer is used.
func (a *apiFeature) startLocalServer(port int) error {
	logger, _, err := logging.NewLogger()
	if err != nil {
		return err
	}
	validate, err := validation.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to load service config: %w", err)
	}
	serviceConfig.Service.Port = port
	serviceConfig.Service.LocalMode = true // set local mode for testing

	storage, err := storage.NewStorage(serviceConfig.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	logger.Info("Storage created.")

	descriptors, err := config.LoadParticipantConfigs(logger, "../../config/participants", "../../../config/participants")
	if err != nil {
		return fmt.Errorf("failed to load participant configs: %w", err)
	}
	openRouter := participants.NewOpenRouterClient(logger, serviceConfig.OpenRouter)
	registry, err := participants.NewRegistry(context.Background(), logger, serviceConfig, openRouter, descriptors)
	if err != nil {
		return fmt.Errorf("failed to create participants: %w", err)
	}
	logger.Info("Participants loaded.", "participants", len(registry.IDs()))

	agg := aggregator.New(logger, scoring.NewLexical(), serviceConfig.Runs.AggregationTimeout, serviceConfig.Judge.Concurrency)
	a.manager, err = runs.NewManager(logger, serviceConfig.Runs, validate, registry, agg, storage)
	if err != nil {
		return fmt.Errorf("failed to create run manager: %w", err)
	}

	a.server, err = server.NewServer(logger, serviceConfig, a.manager, registry, validate)
	if err != nil {
		return err
	}

	handler, err := a.server.SetupRoutes()
	if err != nil {
		return err
	}
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	// Start server in background
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	go func() {
		_ = a.httpServer.Serve(listener)
	}()

	return nil
}

func (a *apiFeature) cleanup(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.manager != nil {
		_ = a.manager.Shutdown(shutdownCtx)
	}
	if a.httpServer != nil {
		_ = a.httpServer.Shutdown(shutdownCtx)
	}
	return ctx, nil
}

func (tc *scenarioConfig) theServiceIsRunning(ctx context.Context) error {
	// Check that the server is actually running by sending a request to the health endpoint
	for range 10 {
		if err := tc.checkHealthEndpoint(); err != nil {
			logDebug("Error checking health endpoint: %v\n", err.Error())
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}

	return nil
}

func (tc *scenarioConfig) checkHealthEndpoint() error {
	if err := tc.iSendARequestTo("GET", "/api/v1/health"); err != nil {
		return fmt.Errorf("failed to send health check request: %w for URL %s", err, tc.apiFeature.baseURL.String())
	}
	if tc.response.StatusCode != 200 {
		return fmt.Errorf("expected status 200, got %d", tc.response.StatusCode)
	}

	match := "\"status\":\"healthy\""
	if !strings.Contains(string(tc.body), match) {
		return fmt.Errorf("expected body to contain %s, got %s", match, string(tc.body))
	}

	return nil
}

func (tc *scenarioConfig) iSendARequestTo(method, path string) error {
	return tc.iSendARequestToWithBody(method, path, "")
}

func (tc *scenarioConfig) findFile(fileName string) (string, error) {
	file := filepath.Join("test_data", fileName)
	if _, err := os.Stat(file); os.IsNotExist(err) {
		path, _ := os.Getwd()
		return "", fmt.Errorf("test file %s not found in directory %s", fileName, path)
	}
	return file, nil
}

func (tc *scenarioConfig) getFile(fileName string) (io.ReadCloser, error) {
	filePath, err := tc.findFile(fileName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (tc *scenarioConfig) getRequestBody(body string) (io.Reader, error) {
	if body == "" {
		return nil, nil
	}
	// this can be an inline body or a test file
	if strings.HasPrefix(body, "file:/") {
		return tc.getFile(strings.TrimPrefix(body, "file:/"))
	}
	return strings.NewReader(body), nil
}

func (sc *scenarioConfig) addAsset(assetName, id string) {
	sc.assets[assetName] = append(sc.assets[assetName], id)
	logDebug("Added asset id %s for id %s\n", id, assetName)
}

func extractId(body []byte) (string, error) {
	obj := make(map[string]any)
	err := json.Unmarshal(body, &obj)
	if err != nil {
		return "", err
	}
	if id, ok := obj["id"]; ok {
		return id.(string), nil
	}
	return "", nil
}

// firstPathSegment matches the first path segment after /api/v1/
var firstPathSegment = regexp.MustCompile(`^/api/v1/([^/?]+).*$`)

func getAssetName(path string) (string, error) {
	if matches := firstPathSegment.FindStringSubmatch(path); len(matches) >= 2 {
		return matches[1], nil
	}
	return "", fmt.Errorf("no first path segment found in path %s", path)
}

func (tc *scenarioConfig) resolvePath(path string) (string, error) {
	if strings.Contains(path, "{id}") {
		if tc.lastId == "" {
			return "", fmt.Errorf("last ID is not set")
		}
		path = strings.Replace(path, "{id}", tc.lastId, 1)
	}
	return path, nil
}

func (tc *scenarioConfig) iSendARequestToWithBody(method, path, body string) error {
	path, err := tc.resolvePath(path)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s%s", tc.apiFeature.baseURL.String(), path)
	entity, err := tc.getRequestBody(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, url, entity)
	if err != nil {
		return err
	}
	if entity != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tc.response, err = tc.apiFeature.client.Do(req)
	if err != nil {
		return err
	}
	defer tc.response.Body.Close()

	tc.body, err = io.ReadAll(tc.response.Body)
	if err != nil {
		return err
	}

	if method == http.MethodPost && tc.response.StatusCode == http.StatusAccepted {
		assetName, err := getAssetName(path)
		if err != nil {
			return err
		}
		switch assetName {
		case "runs":
			tc.lastId, err = extractId(tc.body)
			if err != nil {
				return err
			}
			if tc.lastId == "" {
				return fmt.Errorf("response does not contain an ID in response %s", string(tc.body))
			}
			tc.addAsset(assetName, tc.lastId)
		default:
			// nothing to do here
		}
	}

	return nil
}

func (tc *scenarioConfig) iWaitForTheRunToBe(status string) error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if err := tc.iSendARequestTo(http.MethodGet, "/api/v1/runs/{id}"); err != nil {
			return err
		}
		current, err := tc.responsePath("$.status")
		if err == nil && current == status {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("the run %s did not become %s, last response %s", tc.lastId, status, string(tc.body))
}

func (tc *scenarioConfig) iOpenTheEventStreamOfTheRun() error {
	return tc.openStream("")
}

func (tc *scenarioConfig) iOpenTheEventStreamOfTheRunAfterEvent(lastEventID int) error {
	return tc.openStream(strconv.Itoa(lastEventID))
}

// openStream reads the event stream of the last run until the server ends it.
func (tc *scenarioConfig) openStream(lastEventID string) error {
	path, err := tc.resolvePath("/api/v1/runs/{id}/stream")
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, tc.apiFeature.baseURL.String()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set(constants.HEADER_LAST_EVENT_ID, lastEventID)
	}
	resp, err := tc.apiFeature.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expected status 200 for the stream, got %d", resp.StatusCode)
	}

	tc.streamIDs = nil
	tc.streamKinds = nil
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if id, ok := strings.CutPrefix(line, "id: "); ok {
			n, err := strconv.ParseUint(id, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", id)
			}
			tc.streamIDs = append(tc.streamIDs, n)
		}
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			tc.streamKinds = append(tc.streamKinds, kind)
		}
	}
	return scanner.Err()
}

func (tc *scenarioConfig) theStreamShouldStartAtSequence(first int) error {
	if len(tc.streamIDs) == 0 {
		return fmt.Errorf("the stream had no events")
	}
	for i, id := range tc.streamIDs {
		if id != uint64(first+i) {
			return fmt.Errorf("expected event id %d at position %d, got %d", first+i, i, id)
		}
	}
	return nil
}

func (tc *scenarioConfig) theStreamShouldEndWith(kind string) error {
	if len(tc.streamKinds) == 0 {
		return fmt.Errorf("the stream had no events")
	}
	if last := tc.streamKinds[len(tc.streamKinds)-1]; last != kind {
		return fmt.Errorf("expected the stream to end with %s, got %s", kind, last)
	}
	return nil
}

func (tc *scenarioConfig) theResponseStatusShouldBe(status int) error {
	if tc.response.StatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.response.StatusCode, string(tc.body))
	}
	return nil
}

func (tc *scenarioConfig) theResponseShouldBeJSON() error {
	contentType := tc.response.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return fmt.Errorf("expected JSON content type, got %s", contentType)
	}

	var js any
	if err := json.Unmarshal(tc.body, &js); err != nil {
		return fmt.Errorf("response is not valid JSON: %v", err)
	}

	return nil
}

func (tc *scenarioConfig) theResponseShouldContainWithValue(key, value string) error {
	var data map[string]any
	if err := json.Unmarshal(tc.body, &data); err != nil {
		return err
	}

	if data[key] != value {
		return fmt.Errorf("expected %s to be %s, got %v", key, value, data[key])
	}

	return nil
}

func (tc *scenarioConfig) theResponseShouldContain(key string) error {
	var data map[string]any
	if err := json.Unmarshal(tc.body, &data); err != nil {
		return err
	}

	if _, ok := data[key]; !ok {
		return fmt.Errorf("response does not contain key: %s", key)
	}

	return nil
}

// responsePath evaluates a JSON path over the last response body and formats the result.
func (tc *scenarioConfig) responsePath(path string) (string, error) {
	value, err := tc.responsePathValue(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(value), nil
}

func (tc *scenarioConfig) responsePathValue(path string) (any, error) {
	var data any
	if err := json.Unmarshal(tc.body, &data); err != nil {
		return nil, err
	}
	return jsonpath.Get(path, data)
}

func (tc *scenarioConfig) theResponsePathShouldBe(path, expected string) error {
	value, err := tc.responsePath(path)
	if err != nil {
		return fmt.Errorf("failed to evaluate %s on %s: %w", path, string(tc.body), err)
	}
	if value != expected {
		return fmt.Errorf("expected %s to be %s, got %s", path, expected, value)
	}
	return nil
}

func (tc *scenarioConfig) theResponsePathShouldInclude(path, expected string) error {
	value, err := tc.responsePathValue(path)
	if err != nil {
		return fmt.Errorf("failed to evaluate %s on %s: %w", path, string(tc.body), err)
	}
	values, ok := value.([]any)
	if !ok {
		return fmt.Errorf("expected %s to be a list, got %v", path, value)
	}
	if !slices.ContainsFunc(values, func(v any) bool { return fmt.Sprint(v) == expected }) {
		return fmt.Errorf("expected %s to include %s, got %v", path, expected, values)
	}
	return nil
}

func (tc *scenarioConfig) theResponseShouldContainPrometheusMetrics() error {
	bodyStr := string(tc.body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		return fmt.Errorf("response does not appear to be Prometheus metrics format")
	}
	return nil
}

func (tc *scenarioConfig) theMetricsShouldInclude(metricName string) error {
	bodyStr := string(tc.body)
	if !strings.Contains(bodyStr, metricName) {
		return fmt.Errorf("metrics do not include %s", metricName)
	}
	return nil
}

func (tc *scenarioConfig) theMetricsShouldShowRequestCountFor(path string) error {
	bodyStr := string(tc.body)
	// Check if metrics contain the path
	if !strings.Contains(bodyStr, path) {
		return fmt.Errorf("metrics do not show requests for path %s", path)
	}
	return nil
}

func (tc *scenarioConfig) saveScenarioName(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	tc.scenarioName = sc.Name
	return ctx, nil
}

// assetCleanup cancels the runs of the scenario that are still going. Runs can not be
// deleted, they leave memory after the retention period.
func (tc *scenarioConfig) assetCleanup(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
	for assetName, ids := range tc.assets {
		for _, id := range ids {
			path := fmt.Sprintf("/api/v1/%s/%s", assetName, id)
			err := tc.iSendARequestTo(http.MethodDelete, path)
			if err != nil {
				return ctx, fmt.Errorf("failed to cancel asset with id '%s' %s: %w", assetName, id, err)
			}
			if tc.response.StatusCode != http.StatusAccepted && tc.response.StatusCode != http.StatusConflict {
				return ctx, fmt.Errorf("expected status 202 or 409, got %d for asset id '%s' with path %s", tc.response.StatusCode, id, path)
			}
			logDebug("Cancelled asset %s with status %d\n", path, tc.response.StatusCode)
		}
	}
	tc.assets = nil
	return ctx, nil
}

func createScenarioConfig(apiConfig *apiFeature) *scenarioConfig {
	conf := new(scenarioConfig)
	conf.assets = make(map[string][]string)

	conf.apiFeature = apiConfig

	return conf
}

func setUpTestConf() {
	apiFeature, err := createApiFeature()
	if err != nil {
		panic(fmt.Errorf("failed to create API feature: %v", err))
	}
	api = apiFeature
}

func waitForService() {
	tc := createScenarioConfig(api)
	for range 10 {
		if err := tc.checkHealthEndpoint(); err != nil {
			logDebug("Error checking health endpoint: %v\n", err.Error())
			time.Sleep(1 * time.Second)
		} else {
			return
		}
	}
	panic("Stopped API Tests. Service is not ready for testing.\n")
}

func tidyUpTests() {
	if api != nil {
		_, _ = api.cleanup(context.Background(), nil, nil)
	}
}

// A bit of a hack to have some checks that the regexes are working as expected
func checkRegexes() {
	paths := [][]string{
		{"/api/v1/runs", "runs"},
		{"/api/v1/runs?limit=2", "runs"},
		{"/api/v1/runs/{id}", "runs"},
		{"/api/v1/runs/{id}/stream", "runs"},
		{"/api/v1/participants/local/echo", "participants"},
	}
	for _, path := range paths {
		name, err := getAssetName(path[0])
		if err != nil {
			panic(fmt.Errorf("failed to get asset name for path %s: %v", path, err))
		}
		if name != path[1] {
			panic(fmt.Errorf("expected asset name %s for path %s, got %s", path[1], path[0], name))
		}
	}
}

func InitializeTestSuite(ctx *godog.TestSuiteContext) {
	http.DefaultTransport.(*http.Transport).TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		//nolint:gosec
		InsecureSkipVerify: true,
	}

	ctx.BeforeSuite(checkRegexes)

	ctx.BeforeSuite(setUpTestConf)
	ctx.BeforeSuite(waitForService)
	ctx.AfterSuite(tidyUpTests)
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := createScenarioConfig(api)

	ctx.Before(tc.saveScenarioName)
	ctx.After(tc.assetCleanup)

	ctx.Step(`^the service is running$`, tc.theServiceIsRunning)
	ctx.Step(`^I send a (GET|DELETE|POST) request to "([^"]*)"$`, tc.iSendARequestTo)
	ctx.Step(`^I send a (POST|PUT|PATCH) request to "([^"]*)" with body "([^"]*)"$`, tc.iSendARequestToWithBody)
	ctx.Step(`^I wait for the run to be "([^"]*)"$`, tc.iWaitForTheRunToBe)
	ctx.Step(`^I open the event stream of the run$`, tc.iOpenTheEventStreamOfTheRun)
	ctx.Step(`^I open the event stream of the run after event (\d+)$`, tc.iOpenTheEventStreamOfTheRunAfterEvent)
	ctx.Step(`^the stream should start at sequence (\d+)$`, tc.theStreamShouldStartAtSequence)
	ctx.Step(`^the stream should end with "([^"]*)"$`, tc.theStreamShouldEndWith)
	ctx.Step(`^the response code should be (\d+)$`, tc.theResponseStatusShouldBe)
	ctx.Step(`^the response should be JSON$`, tc.theResponseShouldBeJSON)
	ctx.Step(`^the response should contain "([^"]*)" with value "([^"]*)"$`, tc.theResponseShouldContainWithValue)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.theResponseShouldContain)
	ctx.Step(`^the response path "([^"]*)" should be "([^"]*)"$`, tc.theResponsePathShouldBe)
	ctx.Step(`^the response path "([^"]*)" should include "([^"]*)"$`, tc.theResponsePathShouldInclude)
	ctx.Step(`^the response should contain Prometheus metrics$`, tc.theResponseShouldContainPrometheusMetrics)
	ctx.Step(`^the metrics should include "([^"]*)"$`, tc.theMetricsShouldInclude)
	ctx.Step(`^the metrics should show request count for "([^"]*)"$`, tc.theMetricsShouldShowRequestCountFor)
}

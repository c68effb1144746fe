package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"go.opentelemetry.io/otel/attribute"

	// import the postgres driver - "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"
	// import the sqlite driver - "sqlite"
	_ "modernc.org/sqlite"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/internal/serviceerrors"
	"github.com/eval-hub/model-arena/pkg/api"
)

const (
	// These are the only drivers currently supported
	SQLITE_DRIVER   = "sqlite"
	POSTGRES_DRIVER = "pgx"

	TABLE_RUNS       = "runs"
	TABLE_AGGREGATES = "aggregates"
)

// SQLStorage archives runs and their aggregate results. WithLogger and WithContext
// return copies sharing the connection pool.
type SQLStorage struct {
	sqlConfig *SQLDatabaseConfig
	pool      *sql.DB
	logger    *slog.Logger
	ctx       context.Context
}

func NewStorage(config map[string]any, logger *slog.Logger) (abstractions.Storage, error) {
	var sqlConfig SQLDatabaseConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &sqlConfig,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	// check that the driver is supported
	switch sqlConfig.Driver {
	case SQLITE_DRIVER, POSTGRES_DRIVER:
	default:
		return nil, getUnsupportedDriverError(sqlConfig.Driver)
	}

	logger.Info("Creating SQL storage", "driver", sqlConfig.Driver)

	pool, err := otelsql.Open(sqlConfig.Driver, sqlConfig.URL,
		otelsql.WithAttributes(attribute.String("db.system", dbSystem(sqlConfig.Driver))),
		otelsql.WithDBName(sqlConfig.DatabaseName),
	)
	if err != nil {
		return nil, err
	}

	if sqlConfig.ConnMaxLifetime != nil {
		pool.SetConnMaxLifetime(*sqlConfig.ConnMaxLifetime)
	}
	if sqlConfig.MaxIdleConns != nil {
		pool.SetMaxIdleConns(*sqlConfig.MaxIdleConns)
	}
	if sqlConfig.MaxOpenConns != nil {
		pool.SetMaxOpenConns(*sqlConfig.MaxOpenConns)
	}

	storage := &SQLStorage{
		sqlConfig: &sqlConfig,
		pool:      pool,
		logger:    logger,
		ctx:       context.Background(),
	}

	// ping the database to verify the DSN provided by the user is valid and the server is accessible
	pingTimeout := sqlConfig.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = time.Second
	}
	logger.Info("Pinging SQL storage", "driver", sqlConfig.Driver)
	if err := storage.Ping(pingTimeout); err != nil {
		_ = pool.Close()
		return nil, err
	}

	// ensure the schemas are created
	logger.Info("Ensuring schemas are created", "driver", sqlConfig.Driver)
	if err := storage.ensureSchema(); err != nil {
		_ = pool.Close()
		return nil, err
	}

	return storage, nil
}

func dbSystem(driver string) string {
	if driver == POSTGRES_DRIVER {
		return "postgresql"
	}
	return driver
}

func (s *SQLStorage) WithLogger(logger *slog.Logger) abstractions.Storage {
	clone := *s
	clone.logger = logger
	return &clone
}

func (s *SQLStorage) WithContext(ctx context.Context) abstractions.Storage {
	clone := *s
	clone.ctx = ctx
	return &clone
}

// Ping the database to verify DSN provided by the user is valid and the
// server accessible.
func (s *SQLStorage) Ping(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	return s.pool.PingContext(ctx)
}

func (s *SQLStorage) GetDatasourceName() string {
	return s.sqlConfig.Driver
}

func (s *SQLStorage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.pool.ExecContext(ctx, query, args...)
}

func (s *SQLStorage) ensureSchema() error {
	schemas, err := schemasForDriver(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	if _, err := s.exec(s.ctx, schemas); err != nil {
		return err
	}

	return nil
}

//#######################################################################
// Run operations
//#######################################################################

// CreateRun stores the run record, the record is stored in the runs table as a JSON document
func (s *SQLStorage) CreateRun(run *api.RunResource) error {
	runJSON, err := json.Marshal(run)
	if err != nil {
		return serviceerrors.NewServiceError(messages.InternalServerError, "Error", err.Error())
	}
	insertStatement, err := createInsertRunStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	s.logger.Info("Creating run record", "run_id", run.ID, "status", run.Status)
	if _, err := s.exec(s.ctx, insertStatement, run.ID, run.CreatedAt.UTC(), time.Now().UTC(), string(run.Status), string(runJSON)); err != nil {
		s.logger.Error("Failed to create run record", "error", err, "run_id", run.ID)
		return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", run.ID, "Error", err.Error())
	}
	return nil
}

func (s *SQLStorage) GetRun(id string) (*api.RunResource, error) {
	run := &api.RunResource{}
	if err := s.getEntity(TABLE_RUNS, "id", "run", id, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLStorage) GetRuns(limit int, offset int, statusFilter string) (*abstractions.QueryResults[api.RunResource], error) {
	// Get total count (with status filter if provided)
	countQuery, countArgs, err := createCountEntitiesStatement(s.sqlConfig.Driver, TABLE_RUNS, statusFilter)
	if err != nil {
		return nil, err
	}
	var totalCount int
	if err := s.pool.QueryRowContext(s.ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		s.logger.Error("Failed to count runs", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
	}

	// Build the list query with pagination and status filter
	listQuery, listArgs, err := createListEntitiesStatement(s.sqlConfig.Driver, TABLE_RUNS, limit, offset, statusFilter)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.QueryContext(s.ctx, listQuery, listArgs...)
	if err != nil {
		s.logger.Error("Failed to list runs", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
	}
	defer rows.Close()

	items := []api.RunResource{}
	for rows.Next() {
		var entityJSON string
		if err := rows.Scan(&entityJSON); err != nil {
			s.logger.Error("Failed to scan run row", "error", err)
			return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
		}
		var run api.RunResource
		if err := json.Unmarshal([]byte(entityJSON), &run); err != nil {
			s.logger.Error("Failed to unmarshal run entity", "error", err)
			return nil, serviceerrors.NewServiceError(messages.JSONUnmarshalFailed, "Type", "run", "Error", err.Error())
		}
		items = append(items, run)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("Error iterating run rows", "error", err)
		return nil, serviceerrors.NewServiceError(messages.QueryFailed, "Type", "runs", "Error", err.Error())
	}

	return &abstractions.QueryResults[api.RunResource]{
		Items:       items,
		TotalStored: totalCount,
	}, nil
}

// UpdateRun replaces the stored record of a run, it fails when the run was never created
func (s *SQLStorage) UpdateRun(run *api.RunResource) error {
	runJSON, err := json.Marshal(run)
	if err != nil {
		return serviceerrors.NewServiceError(messages.InternalServerError, "Error", err.Error())
	}
	updateStatement, err := createUpdateRunStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	return s.withTransaction("update run", run.ID, func(txn *sql.Tx) error {
		result, err := txn.ExecContext(s.ctx, updateStatement, string(run.Status), string(runJSON), time.Now().UTC(), run.ID)
		if err != nil {
			s.logger.Error("Failed to update run record", "error", err, "run_id", run.ID, "status", run.Status)
			return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", run.ID, "Error", err.Error()).WithRollback()
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "run", "ResourceId", run.ID, "Error", err.Error()).WithRollback()
		}
		if rowsAffected == 0 {
			return serviceerrors.NewServiceError(messages.ResourceNotFound, "Type", "run", "ResourceId", run.ID).WithRollback()
		}
		s.logger.Info("Updated run record", "run_id", run.ID, "status", run.Status)
		return nil
	})
}

//#######################################################################
// Aggregate result operations
//#######################################################################

func (s *SQLStorage) SaveAggregate(result *api.AggregateResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return serviceerrors.NewServiceError(messages.InternalServerError, "Error", err.Error())
	}
	upsertStatement, err := createUpsertAggregateStatement(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	return s.withTransaction("save aggregate", result.RunID, func(txn *sql.Tx) error {
		if _, err := txn.ExecContext(s.ctx, upsertStatement, result.RunID, result.CreatedAt.UTC(), string(resultJSON)); err != nil {
			s.logger.Error("Failed to save aggregate result", "error", err, "run_id", result.RunID)
			return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", "aggregate", "ResourceId", result.RunID, "Error", err.Error()).WithRollback()
		}
		return nil
	})
}

func (s *SQLStorage) GetAggregate(runID string) (*api.AggregateResult, error) {
	result := &api.AggregateResult{}
	if err := s.getEntity(TABLE_AGGREGATES, "run_id", "aggregate", runID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// getEntity reads the JSON document stored for key into target.
func (s *SQLStorage) getEntity(table string, keyColumn string, resourceType string, key string, target any) error {
	selectQuery, err := createGetEntityStatement(s.sqlConfig.Driver, table, keyColumn)
	if err != nil {
		return err
	}
	var entityJSON string
	if err := s.pool.QueryRowContext(s.ctx, selectQuery, key).Scan(&entityJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return serviceerrors.NewServiceError(messages.ResourceNotFound, "Type", resourceType, "ResourceId", key)
		}
		s.logger.Error("Failed to get "+resourceType, "error", err, "id", key)
		return serviceerrors.NewServiceError(messages.DatabaseOperationFailed, "Type", resourceType, "ResourceId", key, "Error", err.Error())
	}
	if err := json.Unmarshal([]byte(entityJSON), target); err != nil {
		s.logger.Error("Failed to unmarshal "+resourceType+" entity", "error", err, "id", key)
		return serviceerrors.NewServiceError(messages.JSONUnmarshalFailed, "Type", resourceType, "Error", err.Error())
	}
	return nil
}

func (s *SQLStorage) Close() error {
	return s.pool.Close()
}

// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/teltec-net/backoffice/internal/billing"
	"github.com/teltec-net/backoffice/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать сотрудника с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если сотрудник не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrClienteExists возвращается при регистрации абонента с занятой cedula или email.
	ErrClienteExists = errors.New("cliente already exists")
	// ErrClienteNotFound возвращается, если абонент не найден.
	ErrClienteNotFound = errors.New("cliente not found")
)

// PeriodosPagadosError возвращается, когда хотя бы один из выбранных
// периодов уже закрыт завершённым платежом. Запрос отклоняется целиком.
type PeriodosPagadosError struct {
	Periodos []model.Period
}

func (e *PeriodosPagadosError) Error() string {
	labels := make([]string, len(e.Periodos))
	for i, p := range e.Periodos {
		labels[i] = billing.PeriodLabel(p)
	}
	return fmt.Sprintf("periodos ya pagados: %s", strings.Join(labels, ", "))
}

// DeudasStats агрегирует состояние задолженности по активным абонентам.
type DeudasStats struct {
	TotalClientes      int
	AlDia              int
	ProximoVencimiento int
	Vencidos           int
	TotalDeuda         decimal.Decimal
	PromedioDeuda      decimal.Decimal
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// Денежные колонки NUMERIC читаются и пишутся как decimal.Decimal.
	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при сериализационных конфликтах и дедлоках.
// Ошибки предметной области (конфликт периода, отсутствие абонента)
// не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(_ context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}
		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового сотрудника.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO usuarios (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает сотрудника по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM usuarios WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

const clienteColumns = `id, cedula, nombres, apellidos, email, telefono, direccion, sector,
	 tipo_plan, precio_plan, fecha_nacimiento, COALESCE(telegram_chat_id, ''), estado, fecha_registro,
	 estado_pago, meses_pendientes, monto_total_deuda, fecha_ultimo_pago, fecha_vencimiento_pago`

func scanCliente(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	err := row.Scan(
		&c.ID, &c.Cedula, &c.Nombres, &c.Apellidos, &c.Email, &c.Telefono,
		&c.Direccion, &c.Sector, &c.TipoPlan, &c.PrecioPlan, &c.FechaNacimiento,
		&c.TelegramChatID, &c.Estado, &c.FechaRegistro,
		&c.Snapshot.EstadoPago, &c.Snapshot.MesesPendientes, &c.Snapshot.MontoTotalDeuda,
		&c.Snapshot.FechaUltimoPago, &c.Snapshot.FechaVencimiento,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCliente регистрирует нового абонента и возвращает его идентификатор.
func (r *PostgresRepository) CreateCliente(ctx context.Context, c *model.Customer) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO clientes
		 (cedula, nombres, apellidos, email, telefono, direccion, sector,
		  tipo_plan, precio_plan, fecha_nacimiento, telegram_chat_id, estado)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
		 RETURNING id`,
		c.Cedula, c.Nombres, c.Apellidos, c.Email, c.Telefono, c.Direccion, c.Sector,
		c.TipoPlan, c.PrecioPlan, c.FechaNacimiento, c.TelegramChatID, string(c.Estado),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrClienteExists, c.Cedula)
		}
		return 0, fmt.Errorf("create cliente: %w", err)
	}
	return id, nil
}

// GetClienteByID возвращает абонента по идентификатору.
func (r *PostgresRepository) GetClienteByID(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+clienteColumns+` FROM clientes WHERE id = $1`, id)

	c, err := scanCliente(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClienteNotFound
		}
		return nil, fmt.Errorf("get cliente: %w", err)
	}
	return c, nil
}

// ListClientes возвращает всех абонентов в порядке регистрации.
func (r *PostgresRepository) ListClientes(ctx context.Context) ([]model.Customer, error) {
	return r.selectClientes(ctx,
		`SELECT `+clienteColumns+` FROM clientes ORDER BY fecha_registro DESC`)
}

// GetClientesActivos возвращает активных абонентов для пересчёта задолженности.
func (r *PostgresRepository) GetClientesActivos(ctx context.Context) ([]model.Customer, error) {
	return r.selectClientes(ctx,
		`SELECT `+clienteColumns+` FROM clientes WHERE estado = 'activo' ORDER BY id`)
}

// GetDeudores возвращает активных абонентов с ненулевой задолженностью,
// отсортированных по её размеру.
func (r *PostgresRepository) GetDeudores(ctx context.Context) ([]model.Customer, error) {
	return r.selectClientes(ctx,
		`SELECT `+clienteColumns+`
		 FROM clientes
		 WHERE estado = 'activo' AND monto_total_deuda > 0
		 ORDER BY monto_total_deuda DESC`)
}

func (r *PostgresRepository) selectClientes(ctx context.Context, query string, args ...any) ([]model.Customer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select clientes: %w", err)
	}
	defer rows.Close()

	var res []model.Customer
	for rows.Next() {
		c, err := scanCliente(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cliente: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetDeudasStats возвращает агрегированную статистику задолженности по активным абонентам.
func (r *PostgresRepository) GetDeudasStats(ctx context.Context) (*DeudasStats, error) {
	var s DeudasStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE estado_pago = 'al_dia'),
		        COUNT(*) FILTER (WHERE estado_pago = 'proximo_vencimiento'),
		        COUNT(*) FILTER (WHERE estado_pago = 'vencido'),
		        COALESCE(SUM(monto_total_deuda), 0),
		        COALESCE(AVG(monto_total_deuda), 0)
		 FROM clientes
		 WHERE estado = 'activo'`,
	).Scan(&s.TotalClientes, &s.AlDia, &s.ProximoVencimiento, &s.Vencidos, &s.TotalDeuda, &s.PromedioDeuda)
	if err != nil {
		return nil, fmt.Errorf("deudas stats: %w", err)
	}
	return &s, nil
}

const pagoColumns = `id, cliente_id, monto, fecha_pago, metodo_pago, concepto,
	 periodo_anio, periodo_mes, estado, comprobante_enviado, numero_comprobante, fecha_creacion`

func scanPago(row pgx.Row) (*model.Payment, error) {
	var (
		p    model.Payment
		anio *int
		mes  *int
	)
	err := row.Scan(
		&p.ID, &p.ClienteID, &p.Monto, &p.FechaPago, &p.MetodoPago, &p.Concepto,
		&anio, &mes, &p.Estado, &p.ComprobanteEnviado, &p.NumeroComprobante, &p.FechaCreacion,
	)
	if err != nil {
		return nil, err
	}
	if anio != nil && mes != nil {
		p.Periodo = &model.Period{Anio: *anio, Mes: *mes}
	}
	return &p, nil
}

// GetPagosByCliente возвращает все платежи абонента, новые первыми.
func (r *PostgresRepository) GetPagosByCliente(ctx context.Context, clienteID int64) ([]model.Payment, error) {
	return r.selectPagos(ctx,
		`SELECT `+pagoColumns+`
		 FROM pagos
		 WHERE cliente_id = $1
		 ORDER BY fecha_pago DESC, id DESC`,
		clienteID)
}

// GetPagosCompletados возвращает завершённые платежи абонента для
// атрибуции по периодам.
func (r *PostgresRepository) GetPagosCompletados(ctx context.Context, clienteID int64) ([]model.Payment, error) {
	return r.selectPagos(ctx,
		`SELECT `+pagoColumns+`
		 FROM pagos
		 WHERE cliente_id = $1 AND estado = 'completado'
		 ORDER BY fecha_pago, id`,
		clienteID)
}

// querier объединяет пул и транзакцию для выборок платежей.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) selectPagos(ctx context.Context, query string, args ...any) ([]model.Payment, error) {
	return queryPagos(ctx, r.pool, query, args...)
}

func queryPagos(ctx context.Context, q querier, query string, args ...any) ([]model.Payment, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pagos: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := scanPago(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pago: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreatePagos атомарно записывает пачку платежей одного абонента.
// Строка абонента блокируется на время транзакции, поэтому проверка
// занятости периодов и вставка не гонятся с параллельными запросами.
// При любом конфликте не записывается ни один платёж.
func (r *PostgresRepository) CreatePagos(ctx context.Context, clienteID int64, pagos []model.Payment, prefix string) ([]model.Payment, error) {
	created := make([]model.Payment, len(pagos))

	err := r.withRetry(ctx, func() error {
		copy(created, pagos)

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM clientes WHERE id = $1 FOR UPDATE`, clienteID).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrClienteNotFound
			}
			return fmt.Errorf("lock cliente: %w", err)
		}

		// Занятость периодов считается по полному отнесению журнала:
		// и структурированные записи, и токены в concepto, и строки,
		// занимающие месяц своей даты платежа. В ответе нужен полный
		// список конфликтов, а не первый попавшийся.
		previos, err := queryPagos(ctx, tx,
			`SELECT `+pagoColumns+`
			 FROM pagos
			 WHERE cliente_id = $1 AND estado = 'completado'
			 ORDER BY fecha_pago, id`,
			clienteID)
		if err != nil {
			return err
		}

		var seleccion []model.Period
		for i := range created {
			if created[i].Periodo != nil {
				seleccion = append(seleccion, *created[i].Periodo)
			}
		}
		if conflictos := billing.ConflictingPeriods(previos, seleccion); len(conflictos) > 0 {
			return &PeriodosPagadosError{Periodos: conflictos}
		}

		for i := range created {
			created[i].ClienteID = clienteID
			if err := insertPago(ctx, tx, &created[i], prefix); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func insertPago(ctx context.Context, tx pgx.Tx, pago *model.Payment, prefix string) error {
	numero, seq, err := nextComprobante(ctx, tx, prefix)
	if err != nil {
		return err
	}

	var anio, mes *int
	if pago.Periodo != nil {
		anio = &pago.Periodo.Anio
		mes = &pago.Periodo.Mes
	}

	const insert = `INSERT INTO pagos
		 (cliente_id, monto, fecha_pago, metodo_pago, concepto,
		  periodo_anio, periodo_mes, estado, comprobante_enviado, numero_comprobante)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)`

	err = tx.QueryRow(ctx,
		insert+` ON CONFLICT (numero_comprobante) DO NOTHING RETURNING id, fecha_creacion`,
		pago.ClienteID, pago.Monto, pago.FechaPago, string(pago.MetodoPago), pago.Concepto,
		anio, mes, string(pago.Estado), numero,
	).Scan(&pago.ID, &pago.FechaCreacion)

	if errors.Is(err, pgx.ErrNoRows) {
		// Гонка по дневному счётчику квитанций: параллельная транзакция
		// успела занять номер. Откатываемся на номер с меткой времени.
		numero = fmt.Sprintf("%s-%s-%05d", prefix, time.Now().UTC().Format("20060102150405"), seq)
		err = tx.QueryRow(ctx,
			insert+` RETURNING id, fecha_creacion`,
			pago.ClienteID, pago.Monto, pago.FechaPago, string(pago.MetodoPago), pago.Concepto,
			anio, mes, string(pago.Estado), numero,
		).Scan(&pago.ID, &pago.FechaCreacion)
	}

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
			pgErr.ConstraintName == "uq_pagos_cliente_periodo" && pago.Periodo != nil {
			return &PeriodosPagadosError{Periodos: []model.Period{*pago.Periodo}}
		}
		return fmt.Errorf("insert pago: %w", err)
	}

	pago.NumeroComprobante = numero
	return nil
}

// nextComprobante выдаёт номер квитанции вида PREFIX-YYYYMMDD-NNNNN,
// где NNNNN — порядковый номер платежа за текущие сутки.
func nextComprobante(ctx context.Context, tx pgx.Tx, prefix string) (string, int, error) {
	var count int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM pagos WHERE fecha_creacion::date = CURRENT_DATE`,
	).Scan(&count)
	if err != nil {
		return "", 0, fmt.Errorf("count pagos today: %w", err)
	}

	seq := count + 1
	return fmt.Sprintf("%s-%s-%05d", prefix, time.Now().UTC().Format("20060102"), seq), seq, nil
}

// UpdateClienteSnapshot записывает пересчитанный снимок задолженности абонента.
func (r *PostgresRepository) UpdateClienteSnapshot(ctx context.Context, clienteID int64, s model.Snapshot) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE clientes
		 SET estado_pago = $2,
		     meses_pendientes = $3,
		     monto_total_deuda = $4,
		     fecha_ultimo_pago = $5,
		     fecha_vencimiento_pago = $6,
		     fecha_actualizacion = NOW()
		 WHERE id = $1`,
		clienteID, string(s.EstadoPago), s.MesesPendientes, s.MontoTotalDeuda,
		s.FechaUltimoPago, s.FechaVencimiento,
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrClienteNotFound
	}
	return nil
}

// MarkComprobanteEnviado отмечает, что квитанция по платежу отправлена абоненту.
func (r *PostgresRepository) MarkComprobanteEnviado(ctx context.Context, pagoID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE pagos SET comprobante_enviado = TRUE WHERE id = $1`,
		pagoID,
	)
	if err != nil {
		return fmt.Errorf("mark comprobante: %w", err)
	}
	return nil
}

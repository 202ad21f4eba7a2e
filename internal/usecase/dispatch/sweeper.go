package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper владеет расписанием рассылки: минутный тик и периодическое
// обновление кэша. Экземпляры независимы, глобального состояния нет,
// поэтому в тестах можно поднимать несколько.
type Sweeper struct {
	service  *Service
	refresh  func(ctx context.Context) error
	interval time.Duration
	log      zerolog.Logger

	cron    *cron.Cron
	baseCtx context.Context
}

// NewSweeper создаёт планировщик. refresh может быть nil — тогда фоновое
// обновление кэша не планируется.
func NewSweeper(service *Service, refresh func(ctx context.Context) error, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		refresh:  refresh,
		interval: time.Minute,
		log:      logger,
	}
}

// Start запускает расписание. Тики последовательны: затянувшийся проход
// откладывает следующий, а не выполняется параллельно с ним.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cron != nil {
		return errors.New("sweeper уже запущен")
	}
	s.baseCtx = ctx
	s.cron = cron.New(cron.WithChain(cron.DelayIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc("@every 1m", s.tick); err != nil {
		return err
	}
	if s.refresh != nil {
		if _, err := s.cron.AddFunc("@every 6h", s.runRefresh); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.log.Info().Msg("sweeper: расписание запущено")
	return nil
}

// Stop останавливает расписание и дожидается завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info().Msg("sweeper: расписание остановлено")
}

func (s *Sweeper) tick() {
	if err := s.baseCtx.Err(); err != nil {
		return
	}
	report, err := s.service.RunTick(s.baseCtx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("sweeper: проход завершился ошибкой")
		return
	}
	s.log.Info().Int("sent", report.Sent).Int("skipped", report.Skipped).Int("errors", report.Errors).Msg("sweeper: проход завершён")
}

func (s *Sweeper) runRefresh() {
	if err := s.baseCtx.Err(); err != nil {
		return
	}
	if err := s.refresh(s.baseCtx); err != nil {
		s.log.Error().Err(err).Msg("sweeper: фоновое обновление кэша не удалось")
	}
}

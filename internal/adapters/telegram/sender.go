package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"clickdivulga/internal/infra/metrics"
)

// Sender отправляет сообщения каналов через Bot API. Боты арендаторов
// кэшируются по токену, общий rate limiter защищает от флуд-лимитов.
type Sender struct {
	limiter *rate.Limiter
	client  *http.Client

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// NewSender создаёт отправителя. rps ограничивает суммарный темп отправки.
func NewSender(rps float64) *Sender {
	if rps <= 0 {
		rps = 0.5
	}
	return &Sender{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		client:  &http.Client{Timeout: 15 * time.Second},
		bots:    make(map[string]*tgbotapi.BotAPI),
	}
}

// SendPhoto отправляет картинку с подписью в канал назначения.
// destination — числовой chat_id либо @username канала.
func (s *Sender) SendPhoto(ctx context.Context, token, destination, photoURL, caption string) error {
	bot, err := s.bot(token)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	photo := tgbotapi.FileURL(photoURL)
	var msg tgbotapi.PhotoConfig
	if chatID, convErr := strconv.ParseInt(destination, 10, 64); convErr == nil {
		msg = tgbotapi.NewPhoto(chatID, photo)
	} else {
		msg = tgbotapi.NewPhotoToChannel(destination, photo)
	}
	msg.Caption = TrimCaption(caption)
	msg.ParseMode = tgbotapi.ModeHTML

	start := time.Now()
	_, err = bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_photo", destination, start, err)
	if err != nil {
		return fmt.Errorf("отправка в канал %s: %w", destination, err)
	}
	return nil
}

func (s *Sender) bot(token string) (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bot, ok := s.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, s.client)
	if err != nil {
		return nil, fmt.Errorf("создание бота: %w", err)
	}
	s.bots[token] = bot
	return bot, nil
}

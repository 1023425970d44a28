package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/reputation/internal/common"
	"serotonyl.ru/reputation/internal/features/notify"
)

type fakeAPI struct {
	sent []*telego.SendMessageParams
	err  error
}

func (f *fakeAPI) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &telego.Message{MessageID: len(f.sent)}, nil
}

func chat(id int64) *int64 { return &id }

func TestSenderSendsRenderedMessage(t *testing.T) {
	logger, _ := test.NewNullLogger()
	api := &fakeAPI{}
	s := NewSender(api, 10, time.Minute, logger)
	defer s.Close()

	err := s.Send(context.Background(),
		notify.Recipient{UserID: 1, TelegramChatID: chat(555)},
		notify.KindAchievementUnlocked,
		notify.Payload{Title: "Новое достижение", Text: "Вы получили достижение «Сотня»"},
	)
	require.NoError(t, err)
	require.Len(t, api.sent, 1)
	require.Equal(t, int64(555), api.sent[0].ChatID.ID)
	require.Equal(t, "Новое достижение\n\nВы получили достижение «Сотня»", api.sent[0].Text)
}

func TestSenderRequiresChat(t *testing.T) {
	s := NewSender(&fakeAPI{}, 10, time.Minute, nil)
	defer s.Close()

	err := s.Send(context.Background(), notify.Recipient{UserID: 1}, notify.KindUpcomingEvent, notify.Payload{Text: "x"})
	require.ErrorIs(t, err, common.ErrNoAddress)
}

func TestSenderRateLimitsPerChat(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(api, 2, time.Hour, nil)
	defer s.Close()
	ctx := context.Background()

	r := notify.Recipient{UserID: 1, TelegramChatID: chat(7)}
	require.NoError(t, s.Send(ctx, r, notify.KindUpcomingEvent, notify.Payload{Text: "1"}))
	require.NoError(t, s.Send(ctx, r, notify.KindUpcomingEvent, notify.Payload{Text: "2"}))
	require.ErrorIs(t, s.Send(ctx, r, notify.KindUpcomingEvent, notify.Payload{Text: "3"}), common.ErrRateLimited)

	other := notify.Recipient{UserID: 2, TelegramChatID: chat(8)}
	require.NoError(t, s.Send(ctx, other, notify.KindUpcomingEvent, notify.Payload{Text: "1"}))
	require.Len(t, api.sent, 3)
}

func TestSenderWrapsAPIError(t *testing.T) {
	boom := errors.New("Bad Request: chat not found")
	s := NewSender(&fakeAPI{err: boom}, 10, time.Minute, nil)
	defer s.Close()

	err := s.Send(context.Background(), notify.Recipient{UserID: 1, TelegramChatID: chat(1)}, notify.KindUpcomingEvent, notify.Payload{Text: "x"})
	require.ErrorIs(t, err, boom)
}

func TestRender(t *testing.T) {
	require.Equal(t, "тело", Render(notify.Payload{Text: " тело "}))
	require.Equal(t, "заголовок", Render(notify.Payload{Title: "заголовок"}))
}

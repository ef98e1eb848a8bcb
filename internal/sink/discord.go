package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/models"
)

const (
	// How long a single frame send may block before the connection is
	// treated as dead
	voiceSendTimeout = 5 * time.Second
)

// Sink errors
var (
	ErrNotConnected = errors.New("not connected to a voice channel")
)

// DiscordSink streams audio into a Discord voice channel over one gateway
// session. One voice connection at a time; Join while connected moves the
// connection.
type DiscordSink struct {
	session *discordgo.Session

	mu       sync.RWMutex
	vc       *discordgo.VoiceConnection
	channels models.SinkChannels

	log zerolog.Logger
}

// NewDiscord opens a gateway session with the given bot token.
func NewDiscord(token string) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open discord gateway: %w", err)
	}

	return &DiscordSink{
		session: session,
		log:     logger.With("sink"),
	}, nil
}

// Join connects to the voice channel. Joining while already connected moves
// the existing connection instead of stacking a second one.
func (d *DiscordSink) Join(ctx context.Context, channels models.SinkChannels) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	vc, err := d.session.ChannelVoiceJoin(channels.GuildID, channels.VoiceChannel, false, true)
	if err != nil {
		return fmt.Errorf("failed to join voice channel %s: %w", channels.VoiceChannel, err)
	}

	d.vc = vc
	d.channels = channels

	d.log.Info().
		Str("guild_id", channels.GuildID).
		Str("voice_channel", channels.VoiceChannel).
		Msg("Joined voice channel")
	return nil
}

// Leave disconnects from the voice channel. Safe to call when not connected.
func (d *DiscordSink) Leave() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.vc == nil {
		return nil
	}

	err := d.vc.Disconnect()
	d.vc = nil
	d.channels = models.SinkChannels{}

	if err != nil {
		return fmt.Errorf("failed to disconnect voice: %w", err)
	}
	d.log.Info().Msg("Left voice channel")
	return nil
}

// Connected reports whether a voice connection is established.
func (d *DiscordSink) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vc != nil
}

// Stream pumps one encoded stream into the voice connection, unwrapping the
// container and sending one opus frame per gateway packet. It returns nil when
// the reader drains cleanly, the context error on cancellation, and the read
// or send error otherwise.
func (d *DiscordSink) Stream(ctx context.Context, r io.Reader) error {
	d.mu.RLock()
	vc := d.vc
	d.mu.RUnlock()
	if vc == nil {
		return ErrNotConnected
	}

	if err := vc.Speaking(true); err != nil {
		return fmt.Errorf("failed to set speaking state: %w", err)
	}
	defer func() {
		if err := vc.Speaking(false); err != nil {
			d.log.Warn().Err(err).Msg("Failed to clear speaking state")
		}
	}()

	packets := newOggPacketReader(r)
	sendTimeout := time.NewTimer(voiceSendTimeout)
	defer sendTimeout.Stop()

	for {
		pkt, err := packets.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if isOpusMetaPacket(pkt) {
			continue
		}

		if !sendTimeout.Stop() {
			select {
			case <-sendTimeout.C:
			default:
			}
		}
		sendTimeout.Reset(voiceSendTimeout)

		select {
		case vc.OpusSend <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		case <-sendTimeout.C:
			return fmt.Errorf("voice send stalled for %s", voiceSendTimeout)
		}
	}
}

// SetActivity updates the bot's presence text. An empty string clears it.
func (d *DiscordSink) SetActivity(activity string) {
	if err := d.session.UpdateGameStatus(0, activity); err != nil {
		d.log.Warn().Err(err).Msg("Failed to update activity")
	}
}

// Close tears down the voice connection and the gateway session.
func (d *DiscordSink) Close() error {
	if err := d.Leave(); err != nil {
		d.log.Warn().Err(err).Msg("Failed to leave voice channel on close")
	}
	return d.session.Close()
}

// NowPlaying announces a started item in the reply channel.
func (d *DiscordSink) NowPlaying(item *models.QueueItem) {
	d.announce(fmt.Sprintf("Now playing: %s", item.Title))
}

// PlaybackFailed announces a skipped item and its cause.
func (d *DiscordSink) PlaybackFailed(item *models.QueueItem, cause error) {
	d.announce(fmt.Sprintf("Could not play %s: %v", item.Title, cause))
}

// QueueFinished announces that playback ran out of items.
func (d *DiscordSink) QueueFinished() {
	d.announce("Queue finished")
}

func (d *DiscordSink) announce(message string) {
	d.mu.RLock()
	replyChannel := d.channels.ReplyChannel
	d.mu.RUnlock()
	if replyChannel == "" {
		return
	}
	if _, err := d.session.ChannelMessageSend(replyChannel, message); err != nil {
		d.log.Warn().Err(err).Str("channel", replyChannel).Msg("Failed to send notification")
	}
}

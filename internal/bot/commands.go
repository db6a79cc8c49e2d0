package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hexlantern/sibyl/internal/settings"
)

// Commands holds the dependencies for the assistant's slash commands.
type Commands struct {
	bot      *Bot
	calls    *CallManager
	settings *settings.Service
}

// NewCommands creates the command set and registers its handlers with the
// bot's router.
func NewCommands(bot *Bot, calls *CallManager, settingsSvc *settings.Service) *Commands {
	c := &Commands{
		bot:      bot,
		calls:    calls,
		settings: settingsSvc,
	}
	c.Register(bot.Router())
	return c
}

// Register registers the /join, /leave, and /voice commands with the router.
func (c *Commands) Register(router *CommandRouter) {
	router.RegisterCommand("join", &discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join your current voice channel and start listening",
	}, c.handleJoin)

	router.RegisterCommand("leave", &discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Leave the voice channel",
	}, c.handleLeave)

	router.RegisterCommand("voice", c.voiceDefinition(), func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		RespondEphemeral(s, i, "Please use a subcommand: `/voice show`, `/voice set`, or `/voice forget`.")
	})
	router.RegisterHandler("voice/show", c.handleVoiceShow)
	router.RegisterHandler("voice/set", c.handleVoiceSet)
	router.RegisterHandler("voice/forget", c.handleVoiceForget)
}

// voiceDefinition returns the /voice command group definition.
func (c *Commands) voiceDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "Configure how the assistant listens and speaks in this channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show the channel's current settings",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Change settings for this channel",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "language", Description: "Spoken language (BCP-47, e.g. en-US)"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "voice_id", Description: "Synthesis voice identifier"},
					{Type: discordgo.ApplicationCommandOptionNumber, Name: "speed", Description: "Speaking rate factor (0.5 to 2.0)"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "model", Description: "Answer model override"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "system_prompt", Description: "Persona text for answers"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "activation_phrase", Description: "Only answer when addressed with this phrase (empty answers everything)"},
					{Type: discordgo.ApplicationCommandOptionString, Name: "waiting_uri", Description: "Audio played while an answer is prepared"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "forget",
				Description: "Clear the channel's conversation history",
			},
		},
	}
}

// handleJoin handles /join.
func (c *Commands) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID := i.GuildID
	userID := interactionUserID(i)

	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		RespondEphemeral(s, i, "You must be in a voice channel first.")
		return
	}

	// Connecting may take a moment.
	DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.calls.Join(ctx, guildID, vs.ChannelID); err != nil {
		FollowUp(s, i, fmt.Sprintf("Failed to join: %v", err))
		return
	}
	FollowUp(s, i, fmt.Sprintf("Listening in <#%s>.", vs.ChannelID))
}

// handleLeave handles /leave.
func (c *Commands) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.calls.Leave(ctx, i.GuildID); err != nil {
		if errors.Is(err, ErrNotInCall) {
			RespondEphemeral(s, i, "Not in a voice channel.")
		} else {
			RespondError(s, i, err)
		}
		return
	}
	RespondEphemeral(s, i, "Left the voice channel.")
}

// handleVoiceShow handles /voice show.
func (c *Commands) handleVoiceShow(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID, err := c.settingsChannel(s, i)
	if err != nil {
		RespondEphemeral(s, i, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.settings.Get(ctx, channelID)
	if err != nil {
		RespondError(s, i, err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Settings for <#%s>:\n", channelID)
	fmt.Fprintf(&b, "**Language:** %s\n", valueOrDefault(ch.Language))
	fmt.Fprintf(&b, "**Voice:** %s\n", valueOrDefault(ch.VoiceID))
	if ch.SpeedFactor > 0 {
		fmt.Fprintf(&b, "**Speed:** %.2f\n", ch.SpeedFactor)
	} else {
		b.WriteString("**Speed:** (default)\n")
	}
	fmt.Fprintf(&b, "**Model:** %s\n", valueOrDefault(ch.Model))
	if ch.ActivationPhrase != "" {
		fmt.Fprintf(&b, "**Activation phrase:** %q\n", ch.ActivationPhrase)
	} else {
		b.WriteString("**Activation phrase:** (none — answers everything)\n")
	}
	RespondEphemeral(s, i, b.String())
}

// handleVoiceSet handles /voice set.
func (c *Commands) handleVoiceSet(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !canManage(i) {
		RespondEphemeral(s, i, "You need the Manage Server permission to change settings.")
		return
	}

	channelID, err := c.settingsChannel(s, i)
	if err != nil {
		RespondEphemeral(s, i, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.settings.Get(ctx, channelID)
	if err != nil {
		RespondError(s, i, err)
		return
	}

	var changed []string
	for _, opt := range subcommandOptions(i) {
		switch opt.Name {
		case "language":
			ch.Language = opt.StringValue()
		case "voice_id":
			ch.VoiceID = opt.StringValue()
		case "speed":
			v := opt.FloatValue()
			if v < 0.5 || v > 2.0 {
				RespondEphemeral(s, i, "Speed must be between 0.5 and 2.0.")
				return
			}
			ch.SpeedFactor = v
		case "model":
			ch.Model = opt.StringValue()
		case "system_prompt":
			ch.SystemPrompt = opt.StringValue()
		case "activation_phrase":
			ch.ActivationPhrase = opt.StringValue()
		case "waiting_uri":
			ch.WaitingURI = opt.StringValue()
		default:
			continue
		}
		changed = append(changed, opt.Name)
	}

	if len(changed) == 0 {
		RespondEphemeral(s, i, "Nothing to change. Pass at least one option.")
		return
	}

	if err := c.settings.Put(ctx, channelID, ch); err != nil {
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, fmt.Sprintf("Updated %s for <#%s>.", strings.Join(changed, ", "), channelID))
}

// handleVoiceForget handles /voice forget.
func (c *Commands) handleVoiceForget(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID, err := c.settingsChannel(s, i)
	if err != nil {
		RespondEphemeral(s, i, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.settings.ClearHistory(ctx, channelID); err != nil {
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, "Conversation history cleared.")
}

// settingsChannel resolves which voice channel a /voice command targets:
// the guild's active call, else the caller's current voice channel.
func (c *Commands) settingsChannel(s *discordgo.Session, i *discordgo.InteractionCreate) (string, error) {
	if channelID, ok := c.calls.ChannelID(i.GuildID); ok {
		return channelID, nil
	}
	vs, err := s.State.VoiceState(i.GuildID, interactionUserID(i))
	if err == nil && vs != nil && vs.ChannelID != "" {
		return vs.ChannelID, nil
	}
	return "", errors.New("Join a voice channel (or have me join one) first.")
}

// subcommandOptions returns the options of the invoked subcommand.
func subcommandOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return nil
	}
	return data.Options[0].Options
}

// interactionUserID returns the invoking user's ID for both guild and DM
// interactions.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// valueOrDefault renders an optional setting for display.
func valueOrDefault(v string) string {
	if v == "" {
		return "(default)"
	}
	return v
}

// canManage reports whether the invoking member has the Manage Server
// permission.
func canManage(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionManageGuild != 0
}

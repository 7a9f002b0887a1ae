// Package commands implements the voxlog Discord slash command handlers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/voxlog/voxlog/internal/app"
	"github.com/voxlog/voxlog/internal/discord"
)

// connectTimeout bounds the voice channel join performed by /join.
const connectTimeout = 30 * time.Second

// RecorderCommands holds the dependencies for the /join, /leave, and /record
// slash commands.
type RecorderCommands struct {
	manager *app.Manager
	perms   *discord.PermissionChecker
	bot     *discord.Bot
}

// NewRecorderCommands creates a RecorderCommands and registers its handlers
// with the bot's router.
func NewRecorderCommands(bot *discord.Bot, manager *app.Manager, perms *discord.PermissionChecker) *RecorderCommands {
	rc := &RecorderCommands{
		manager: manager,
		perms:   perms,
		bot:     bot,
	}
	rc.Register(bot.Router())
	return rc
}

// Register registers the /join, /leave, and /record commands with the router.
func (rc *RecorderCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("join", rc.JoinDefinition(), rc.handleJoin)
	router.RegisterCommand("leave", rc.LeaveDefinition(), rc.handleLeave)
	router.RegisterCommand("record", rc.RecordDefinition(), func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/record start`, `/record stop`, or `/record status`.")
	})
	router.RegisterHandler("record/start", rc.handleRecordStart)
	router.RegisterHandler("record/stop", rc.handleRecordStop)
	router.RegisterHandler("record/status", rc.handleRecordStatus)
}

// JoinDefinition returns the /join command definition for Discord.
func (rc *RecorderCommands) JoinDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join your current voice channel",
	}
}

// LeaveDefinition returns the /leave command definition for Discord.
func (rc *RecorderCommands) LeaveDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Leave the voice channel, ending any active recording",
	}
}

// RecordDefinition returns the /record command definition for Discord.
func (rc *RecorderCommands) RecordDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "record",
		Description: "Manage recording sessions",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start recording the joined voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop the active recording session",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the status of the active recording session",
			},
		},
	}
}

// handleJoin handles /join.
func (rc *RecorderCommands) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !rc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to control recordings.")
		return
	}

	vs, err := s.State.VoiceState(rc.bot.GuildID(), interactionUserID(i))
	if err != nil || vs == nil || vs.ChannelID == "" {
		discord.RespondEphemeral(s, i, "You must be in a voice channel for me to join.")
		return
	}

	// Connecting can take a moment; defer the reply.
	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch err := rc.manager.Join(ctx, vs.ChannelID); {
	case errors.Is(err, app.ErrAlreadyConnected):
		discord.FollowUp(s, i, fmt.Sprintf("Already connected to <#%s>.", vs.ChannelID))
	case err != nil:
		discord.FollowUp(s, i, fmt.Sprintf("Failed to join: %v", err))
	default:
		discord.FollowUp(s, i, fmt.Sprintf("Joined <#%s>. Use `/record start` to begin recording.", vs.ChannelID))
	}
}

// handleLeave handles /leave.
func (rc *RecorderCommands) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !rc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to control recordings.")
		return
	}

	channelID := rc.targetChannel(s, i)
	if channelID == "" {
		discord.RespondEphemeral(s, i, "I'm not connected to a voice channel.")
		return
	}

	_, hadSession := rc.manager.ActiveSession(channelID)
	if err := rc.manager.Leave(channelID); err != nil {
		discord.RespondError(s, i, err)
		return
	}

	msg := fmt.Sprintf("Left <#%s>.", channelID)
	if hadSession {
		msg += " The recording session was ended."
	}
	discord.RespondEphemeral(s, i, msg)
}

// handleRecordStart handles /record start.
func (rc *RecorderCommands) handleRecordStart(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !rc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to control recordings.")
		return
	}

	channelID := rc.targetChannel(s, i)
	if channelID == "" {
		discord.RespondEphemeral(s, i, "I'm not in a voice channel. Use `/join` first.")
		return
	}

	sessionID, err := rc.manager.StartSession(channelID)
	switch {
	case errors.Is(err, app.ErrAlreadyActive):
		info, _ := rc.manager.ActiveSession(channelID)
		discord.RespondEphemeral(s, i, fmt.Sprintf("A recording is already active (ID: `%s`).", info.SessionID))
		return
	case err != nil:
		discord.RespondError(s, i, err)
		return
	}

	discord.RespondEphemeral(s, i, fmt.Sprintf(
		"Recording started in <#%s>.\n**Session ID:** `%s`",
		channelID, sessionID,
	))
}

// handleRecordStop handles /record stop.
func (rc *RecorderCommands) handleRecordStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !rc.perms.IsOperator(i) {
		discord.RespondEphemeral(s, i, "You need the operator role to control recordings.")
		return
	}

	channelID := rc.targetChannel(s, i)
	if channelID == "" {
		discord.RespondEphemeral(s, i, "I'm not in a voice channel.")
		return
	}

	info, ok := rc.manager.ActiveSession(channelID)
	if !ok {
		discord.RespondEphemeral(s, i, "No active recording to stop.")
		return
	}
	if err := rc.manager.EndSession(channelID); err != nil {
		discord.RespondError(s, i, err)
		return
	}

	duration := time.Since(info.StartedAt).Truncate(time.Second)
	discord.RespondEphemeral(s, i, fmt.Sprintf(
		"Recording `%s` stopped.\n**Duration:** %s\n**Transcript:** `%s`",
		info.SessionID, duration, info.TranscriptPath,
	))
}

// handleRecordStatus handles /record status.
func (rc *RecorderCommands) handleRecordStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID := rc.targetChannel(s, i)
	if channelID == "" {
		discord.RespondEphemeral(s, i, "I'm not in a voice channel.")
		return
	}

	info, ok := rc.manager.ActiveSession(channelID)
	if !ok {
		discord.RespondEphemeral(s, i, fmt.Sprintf("Connected to <#%s>, not recording.", channelID))
		return
	}

	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title: "Recording status",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Session ID", Value: fmt.Sprintf("`%s`", info.SessionID), Inline: false},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", info.ChannelID), Inline: true},
			{Name: "Running for", Value: time.Since(info.StartedAt).Truncate(time.Second).String(), Inline: true},
			{Name: "Active speakers", Value: fmt.Sprintf("%d", info.ActiveSpeakers), Inline: true},
			{Name: "Transcript", Value: fmt.Sprintf("`%s`", info.TranscriptPath), Inline: false},
		},
	})
}

// targetChannel resolves which voice channel a command refers to: the
// caller's current voice channel when the bot is connected there, otherwise
// the bot's only connection, otherwise none.
func (rc *RecorderCommands) targetChannel(s *discordgo.Session, i *discordgo.InteractionCreate) string {
	if vs, err := s.State.VoiceState(rc.bot.GuildID(), interactionUserID(i)); err == nil && vs != nil && vs.ChannelID != "" {
		if rc.manager.IsConnected(vs.ChannelID) {
			return vs.ChannelID
		}
	}
	if chans := rc.manager.ConnectedChannels(); len(chans) == 1 {
		return chans[0]
	}
	return ""
}

// interactionUserID extracts the user ID from an interaction, handling both
// guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

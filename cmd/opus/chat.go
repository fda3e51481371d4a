package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"opus/internal/chatsync"
	"opus/pkg/api"
	"opus/pkg/storage"
)

func runChat(ctx context.Context, e *env, args []string) error {
	sub, args, err := subcommand(args, "list", "watch", "send")
	if err != nil {
		return err
	}
	switch sub {
	case "list":
		return chatList(ctx, e, args)
	case "watch":
		return chatWatch(ctx, e, args)
	default:
		return chatSend(ctx, e, args)
	}
}

func chatList(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("chat list", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "page size")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	list := chatsync.NewConversationList(e.client, chatsync.ListOptions{
		Page: api.Page{Limit: *limit},
	})
	if err := list.Refresh(ctx); err != nil {
		return err
	}
	return e.print(list.Snapshot())
}

// chatWatch prints a snapshot on every change until interrupted.
func chatWatch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("chat watch", flag.ContinueOnError)
	conv := fs.String("conversation", "", "conversation id")
	job := fs.String("job", "", "job id, resolves the conversation for that job")
	noRead := fs.Bool("no-read", false, "do not mark the conversation read")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *conv == "" && *job == "" {
		return errors.New("-conversation or -job is required")
	}
	changes := make(chan chatsync.Snapshot, 16)
	syncer := chatsync.New(e.client, chatsync.Options{
		ConversationID:      *conv,
		JobID:               *job,
		PollInterval:        e.cfg.ChatPollDuration(),
		DisableAutoMarkRead: *noRead,
		OnChange: func(s chatsync.Snapshot) {
			select {
			case changes <- s:
			default:
			}
		},
	})
	if err := syncer.Start(ctx); err != nil {
		return err
	}
	defer syncer.Stop()

	printed := -1
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-changes:
			if s.Loading || len(s.Messages) == printed {
				continue
			}
			printed = len(s.Messages)
			if err := e.print(s); err != nil {
				return err
			}
		}
	}
}

func chatSend(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("chat send", flag.ContinueOnError)
	conv := fs.String("conversation", "", "conversation id")
	job := fs.String("job", "", "job id, resolves the conversation for that job")
	text := fs.String("text", "", "message text, or the caption of -file")
	file := fs.String("file", "", "attachment to upload to object storage")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *conv == "" && *job == "" {
		return errors.New("-conversation or -job is required")
	}
	if *text == "" && *file == "" {
		return errors.New("-text or -file is required")
	}
	syncer := chatsync.New(e.client, chatsync.Options{
		ConversationID:      *conv,
		JobID:               *job,
		PollInterval:        -1,
		DisableAutoMarkRead: true,
	})
	if err := syncer.Start(ctx); err != nil {
		return err
	}
	defer syncer.Stop()

	if *file == "" {
		msg, err := syncer.Send(ctx, *text, "", "")
		if err != nil {
			return err
		}
		return e.print(msg)
	}

	up, err := newUploader(ctx, e)
	if err != nil {
		return err
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(*file))
	msg, err := syncer.SendAttachment(ctx, up, filepath.Base(*file), f, info.Size(), contentType, *text)
	if err != nil {
		return err
	}
	return e.print(msg)
}

func newUploader(ctx context.Context, e *env) (*storage.Uploader, error) {
	if e.cfg.StorageEndpoint == "" {
		return nil, fmt.Errorf("attachments need storageEndpoint in config")
	}
	store, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  e.cfg.StorageEndpoint,
		AccessKey: e.cfg.StorageAccessKey,
		SecretKey: e.cfg.StorageSecretKey,
		Bucket:    e.cfg.StorageBucket,
		UseSSL:    e.cfg.StorageUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewUploader(store, e.cfg.PresignExpiryDuration()), nil
}

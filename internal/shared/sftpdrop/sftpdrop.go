// Package sftpdrop 客户注文投递箱。客户侧把注文CSV投到SFTP目录，
// 本侧按需拉取。连接在单次拉取内建立并关闭，处理完的文件移入processed子目录。
package sftpdrop

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/config"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const processedDir = "processed"

// Dropbox SFTP投递箱客户端
type Dropbox struct {
	cfg    config.SFTPConfig
	logger *zap.Logger
}

// NewDropbox 创建投递箱客户端，未配置主机时返回nil
func NewDropbox(cfg config.SFTPConfig, logger *zap.Logger) *Dropbox {
	if cfg.Host == "" {
		return nil
	}
	return &Dropbox{cfg: cfg, logger: logger}
}

func (d *Dropbox) connect() (*sftp.Client, *ssh.Client, error) {
	sshConfig := &ssh.ClientConfig{
		User: d.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(d.cfg.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	sshConn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port), sshConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("dial sftp host: %w", err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, nil, fmt.Errorf("open sftp session: %w", err)
	}

	return client, sshConn, nil
}

// PullResult 单文件拉取结果
type PullResult struct {
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
}

// Pull 拉取投递箱内全部CSV并逐个交给handle处理。
// 处理成功的文件改名移入processed子目录；失败的原地保留，下次拉取重试。
func (d *Dropbox) Pull(ctx context.Context, handle func(name string, r io.Reader) error) ([]PullResult, error) {
	client, sshConn, err := d.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	defer sshConn.Close()

	entries, err := client.ReadDir(d.cfg.RemoteDir)
	if err != nil {
		return nil, fmt.Errorf("read remote dir %s: %w", d.cfg.RemoteDir, err)
	}

	results := make([]PullResult, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if entry.IsDir() || !strings.EqualFold(path.Ext(entry.Name()), ".csv") {
			continue
		}

		remotePath := path.Join(d.cfg.RemoteDir, entry.Name())
		result := PullResult{File: entry.Name()}

		if err := d.pullOne(client, remotePath, entry.Name(), handle); err != nil {
			d.logger.Warn("投递箱文件处理失败",
				zap.String("file", entry.Name()),
				zap.Error(err))
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	return results, nil
}

func (d *Dropbox) pullOne(client *sftp.Client, remotePath, name string, handle func(name string, r io.Reader) error) error {
	remoteFile, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", remotePath, err)
	}

	handleErr := handle(name, remoteFile)
	remoteFile.Close()
	if handleErr != nil {
		return handleErr
	}

	doneDir := path.Join(d.cfg.RemoteDir, processedDir)
	if err := client.MkdirAll(doneDir); err != nil {
		return fmt.Errorf("mkdir %s: %w", doneDir, err)
	}
	// 带时间戳改名，避免同名文件二次投递时冲突
	donePath := path.Join(doneDir, time.Now().Format("20060102150405")+"_"+name)
	if err := client.Rename(remotePath, donePath); err != nil {
		return fmt.Errorf("archive %s: %w", remotePath, err)
	}

	return nil
}

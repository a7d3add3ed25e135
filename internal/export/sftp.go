package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"resume-extractor/internal/config"
	"resume-extractor/internal/logger"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrSFTPNotConfigured SFTP 投递缺少必要配置
var ErrSFTPNotConfigured = errors.New("sftp: host / username / password 未配置")

// SFTPUploader 把导出文件投递到 SFTP 服务器
type SFTPUploader struct {
	cfg config.SFTPConfig
}

// NewSFTPUploader 校验配置并填充默认值
func NewSFTPUploader(cfg config.SFTPConfig) (*SFTPUploader, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, ErrSFTPNotConfigured
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &SFTPUploader{cfg: cfg}, nil
}

// RemotePath 远程文件的完整路径
func (u *SFTPUploader) RemotePath(remoteFileName string) string {
	return path.Join(u.cfg.RemoteDir, path.Base(remoteFileName))
}

func (u *SFTPUploader) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if u.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := expandHome(u.cfg.KnownHostsFile)
	if file == "" {
		return nil, fmt.Errorf("sftp: 未忽略主机密钥时必须配置 known_hosts_file")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("sftp: 读取 known_hosts 失败: %w", err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// Upload 上传内容到 RemoteDir/remoteFileName，返回远程路径
func (u *SFTPUploader) Upload(ctx context.Context, remoteFileName string, r io.Reader) (string, error) {
	hostKeyCallback, err := u.hostKeyCallback()
	if err != nil {
		return "", err
	}

	timeout := time.Duration(u.cfg.TimeoutSeconds) * time.Second
	sshCfg := &ssh.ClientConfig{
		User:            u.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(u.cfg.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}
	addr := net.JoinHostPort(u.cfg.Host, fmt.Sprintf("%d", u.cfg.Port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("sftp: dial error: %w", err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("sftp: ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", fmt.Errorf("sftp: new client: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(u.cfg.RemoteDir); err != nil {
		return "", fmt.Errorf("sftp: mkdir %s: %w", u.cfg.RemoteDir, err)
	}

	remotePath := u.RemotePath(remoteFileName)
	dst, err := client.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("sftp: create remote file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, r)
	if err != nil {
		return "", fmt.Errorf("sftp: upload copy: %w", err)
	}
	logger.Info().Str("remote_path", remotePath).Int64("bytes", n).Msg("导出文件已通过SFTP投递")
	return remotePath, nil
}

// Package profile turns Azure App Service publishing profiles into Git
// deployment targets.
package profile

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	methodMSDeploy = "MSDeploy"
	methodFTP      = "FTP"
)

// PublishingProfile holds the deployment credentials of one web app.
// Values are never modified after parsing.
type PublishingProfile struct {
	GitURL            string
	Username          string
	Password          string
	FTPURL            string
	FTPUsername       string
	FTPPassword       string
	DestinationAppURL string
}

type publishData struct {
	XMLName  xml.Name         `xml:"publishData"`
	Profiles []publishProfile `xml:"publishProfile"`
}

type publishProfile struct {
	PublishMethod     string `xml:"publishMethod,attr"`
	PublishURL        string `xml:"publishUrl,attr"`
	MSDeploySite      string `xml:"msdeploySite,attr"`
	UserName          string `xml:"userName,attr"`
	UserPWD           string `xml:"userPWD,attr"`
	DestinationAppURL string `xml:"destinationAppUrl,attr"`
}

// ParseXML reads a .PublishSettings document.
//
// The Git URL comes from the MSDeploy profile: the SCM host from publishUrl
// with the site name as repository. FTP values come from the FTP profile.
// Missing profiles leave the matching fields empty.
func ParseXML(r io.Reader) (*PublishingProfile, error) {
	var doc publishData
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse publish settings: %w", err)
	}

	p := &PublishingProfile{}
	for _, pp := range doc.Profiles {
		switch {
		case strings.EqualFold(pp.PublishMethod, methodMSDeploy):
			p.GitURL = gitURL(pp.PublishURL, pp.MSDeploySite)
			p.Username = pp.UserName
			p.Password = pp.UserPWD
			if p.DestinationAppURL == "" {
				p.DestinationAppURL = pp.DestinationAppURL
			}
		case strings.EqualFold(pp.PublishMethod, methodFTP):
			p.FTPURL = pp.PublishURL
			p.FTPUsername = pp.UserName
			p.FTPPassword = pp.UserPWD
			if p.DestinationAppURL == "" {
				p.DestinationAppURL = pp.DestinationAppURL
			}
		}
	}

	return p, nil
}

// LoadFile parses the publish settings file at path.
func LoadFile(path string) (*PublishingProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open publish settings: %w", err)
	}
	defer f.Close()

	return ParseXML(f)
}

func gitURL(publishURL, site string) string {
	if publishURL == "" || site == "" {
		return ""
	}
	host := strings.TrimPrefix(publishURL, "https://")
	host = strings.TrimSuffix(host, "/")
	host = strings.TrimSuffix(host, ":443")
	return fmt.Sprintf("https://%s/%s.git", host, site)
}

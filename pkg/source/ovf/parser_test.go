// SPDX-License-Identifier: LGPL-3.0-or-later

package ovf

import (
	"testing"

	"kvmigrate/pkg/source"
)

const minimalOVF = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope xmlns="http://schemas.dmtf.org/ovf/envelope/1" xmlns:rasd="http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_ResourceAllocationSettingData" xmlns:vmw="http://www.vmware.com/schema/ovf">
  <References>
    <File ovf:id="file1" ovf:href="disk1.vmdk" xmlns:ovf="http://schemas.dmtf.org/ovf/envelope/1"/>
  </References>
  <DiskSection>
    <Disk ovf:diskId="vmdisk1" ovf:fileRef="file1" ovf:capacity="20" xmlns:ovf="http://schemas.dmtf.org/ovf/envelope/1"/>
  </DiskSection>
  <VirtualSystem ovf:id="vm" xmlns:ovf="http://schemas.dmtf.org/ovf/envelope/1">
    <Name>centos-test</Name>
    <VirtualHardwareSection>
      <Item>
        <rasd:ResourceType>3</rasd:ResourceType>
        <rasd:VirtualQuantity>2</rasd:VirtualQuantity>
        <vmw:CoresPerSocket>2</vmw:CoresPerSocket>
      </Item>
      <Item>
        <rasd:ResourceType>4</rasd:ResourceType>
        <rasd:VirtualQuantity>2048</rasd:VirtualQuantity>
      </Item>
      <Item>
        <rasd:InstanceID>3</rasd:InstanceID>
        <rasd:ResourceType>6</rasd:ResourceType>
        <rasd:ResourceSubType>VirtualSCSI</rasd:ResourceSubType>
      </Item>
      <Item>
        <rasd:Parent>3</rasd:Parent>
        <rasd:ResourceType>17</rasd:ResourceType>
        <rasd:HostResource>ovf:/disk/vmdisk1</rasd:HostResource>
      </Item>
      <Item>
        <rasd:ResourceType>10</rasd:ResourceType>
        <rasd:ElementName>Network adapter 1</rasd:ElementName>
        <rasd:ResourceSubType>E1000</rasd:ResourceSubType>
      </Item>
      <Config vmw:key="firmware" vmw:value="efi"/>
    </VirtualHardwareSection>
  </VirtualSystem>
</Envelope>`

func TestParseMinimalOVF(t *testing.T) {
	lookup := func(id string) (string, bool, bool) {
		if id == "file1" {
			return "disk1.vmdk", false, true
		}
		return "", false, false
	}
	src, parsed, err := Parse([]byte(minimalOVF), lookup)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if src.Name != "centos-test" {
		t.Errorf("Name = %q, want centos-test", src.Name)
	}
	if src.VCPUs != 2 {
		t.Errorf("VCPUs = %d, want 2", src.VCPUs)
	}
	if src.MemoryBytes != 2048*1024*1024 {
		t.Errorf("MemoryBytes = %d, want %d", src.MemoryBytes, 2048*1024*1024)
	}
	if src.Firmware != source.FirmwareUEFI {
		t.Errorf("Firmware = %s, want UEFI", src.Firmware)
	}
	if len(parsed) != 1 || parsed[0].Origin.Path != "disk1.vmdk" {
		t.Fatalf("unexpected parsed disks: %+v", parsed)
	}
	if src.Disks[0].Controller != source.ControllerSCSI {
		t.Errorf("Controller = %s, want SCSI", src.Disks[0].Controller)
	}
	if len(src.Nics) != 1 || src.Nics[0].Vnet != "Network adapter 1" {
		t.Fatalf("unexpected nics: %+v", src.Nics)
	}
}

func TestParseOVFMissingFileRefIsFatal(t *testing.T) {
	lookup := func(id string) (string, bool, bool) { return "", false, false }
	if _, _, err := Parse([]byte(minimalOVF), lookup); err == nil {
		t.Error("expected error when fileHref lookup fails for a referenced disk")
	}
}
